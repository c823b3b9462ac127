package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/golang/glog"
	"github.com/greendrake/ntrview/bridge"
	"github.com/greendrake/ntrview/config"
	"github.com/greendrake/ntrview/decoder"
	"github.com/greendrake/ntrview/dispatch"
	"github.com/greendrake/ntrview/frame"
	"github.com/greendrake/ntrview/ingest"
	"github.com/greendrake/ntrview/ntr"
	"github.com/greendrake/ntrview/render"
	"github.com/greendrake/ntrview/surface"
	"github.com/greendrake/ntrview/view"
	"github.com/greendrake/ntrview/webcast"
	"github.com/greendrake/server_client_hierarchy"
)

// The top node. Its clients are the frame sources: the datagram receiver and HzMod.
// Casters are not attached: each one runs on its own while it has websocket viewers.
type App struct {
	server_client_hierarchy.Node
	cfg        *config.Config
	seq        frame.Sequencer
	views      map[string]*view.View
	surfaces   map[string]*surface.Memory
	casters    map[string]*webcast.Caster
	dispatcher *dispatch.Dispatcher
	receiver   *ingest.Receiver
	hzmod      *ingest.HzModSource
	control    *ntr.Controller
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		cfg:      cfg,
		views:    make(map[string]*view.View),
		surfaces: make(map[string]*surface.Memory),
		casters:  make(map[string]*webcast.Caster),
	}
	app.GetNode().ID = "NTRView"
	// Runs until ctx is done, whether or not the receiver is up
	app.SetPrincipallyClient(true)
	app.SetContextWaiter(ctx)
	app.Start()

	clearColor, err := config.ParseColor(cfg.ClearColor)
	if err != nil {
		return nil, err
	}
	var router dispatch.Router
	var primary *view.View
	for _, s := range cfg.Screens {
		v := view.New(s.Name, s.Primary, &app.seq, render.Options{
			Name:        "Screen [" + s.Name + "]",
			Interval:    cfg.RenderInterval,
			StopTimeout: cfg.StopTimeout,
			Orientation: cfg.ScreenOrientation(s),
			ClearColor:  clearColor,
		})
		app.views[s.Name] = v
		app.surfaces[s.Name] = surface.NewMemory(s.Width, s.Height)
		if s.Primary {
			router.Primary = v
			primary = v
		} else {
			router.Secondary = v
		}

		caster, err := webcast.NewCaster(s.Name, cfg.CastFPS)
		if err != nil {
			return nil, err
		}
		caster.Quality = cfg.CastQuality
		caster.SetContext(ctx)
		app.surfaces[s.Name].OnPost(caster.Post)
		app.casters[s.Name] = caster
	}
	app.dispatcher = dispatch.New(decoder.JPEG{}, router, cfg.Workers, &app.seq)

	if cfg.Ingest != "" {
		app.receiver = ingest.NewReceiver(cfg.Ingest, func(blob []byte) {
			// Results are counted by the dispatcher; the frame itself lands in the views
			app.dispatcher.Submit(ctx, blob)
		})
		app.AddClient(app.receiver)
	}

	if cfg.HzMod.Enabled {
		app.hzmod = ingest.NewHzModSource(cfg.HzMod.Address, cfg.HzMod.Quality, cfg.HzMod.CPULimit, func(jpeg []byte) {
			// Decode failures are logged by the view
			primary.UpdateFrame(jpeg)
		})
		app.AddClient(app.hzmod)
	}

	for name, v := range app.views {
		if err := v.OnSurfaceCreated(ctx, app.surfaces[name]); err != nil {
			return nil, err
		}
		w, h := app.surfaces[name].Size()
		v.OnSurfaceChanged(w, h)
	}

	if cfg.RemotePlay.Enabled {
		// The handheld only streams after a RemotePlay command
		app.control = ntr.NewController(cfg.RemotePlay.Address, cfg.RemotePlay.RemotePlaySettings)
		go app.control.Run(ctx)
	}
	go func() {
		if err := bridge.Run(ctx, cfg.Listen, app.bridgeServer()); err != nil {
			glog.Errorf("Bridge: %v", err)
		}
	}()
	return app, nil
}

func (a *App) bridgeServer() *bridge.Server {
	return &bridge.Server{
		Dispatcher: a.dispatcher,
		Views:      a.views,
		Casters:    a.casters,
		Extra: func() map[string]any {
			posts := make(map[string]uint64, len(a.surfaces))
			for name, surf := range a.surfaces {
				posts[name] = surf.Posts()
			}
			extra := map[string]any{"surfacePosts": posts}
			if a.receiver != nil {
				extra["ingest"] = a.receiver.Stats()
			}
			if a.hzmod != nil {
				extra["hzmod"] = a.hzmod.Stats()
			}
			if a.control != nil {
				extra["remotePlayRequested"] = a.control.Requested()
			}
			return extra
		},
	}
}

// Shutdown drops the viewers and tears the views down. A slow render loop is reported, not waited for.
func (a *App) Shutdown() {
	for _, c := range a.casters {
		c.Stop()
	}
	for name, v := range a.views {
		if err := v.Close(); err != nil {
			glog.Warningf("Screen %v: %v", name, err)
		}
		a.surfaces[name].Release()
	}
}

func GetWorkDir() string {
	ex, err := os.Executable()
	if err != nil {
		panic(err)
	}
	dir := filepath.Dir(ex)
	// Helpful when developing:
	// when running `go run`, the executable is in a temporary directory.
	if strings.Contains(dir, "go-build") {
		return "."
	}
	return dir
}

func main() {
	flag.Set("logtostderr", "true")
	configFile := flag.String("config", "config.yaml", "Path to the YAML config, relative to the executable")
	flag.Parse()
	defer glog.Flush()

	if err := os.Chdir(GetWorkDir()); err != nil {
		glog.Fatal(err)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			glog.Fatal(err)
		}
		glog.Infof("No %v, running with defaults", *configFile)
		cfg = config.Default()
	}
	glog.Infof("Started with %v screen(s)", len(cfg.Screens))

	// Create a context that is responsive to signals:
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer func() {
		glog.Info("All finished")
		stop()
	}()
	app, err := New(ctx, cfg)
	if err != nil {
		glog.Errorf("Failed to start: %v", err)
		return
	}
	app.Wait()
	app.Shutdown()
}
