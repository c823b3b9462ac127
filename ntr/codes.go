package ntr

type Command uint32

const (
	CmdEmpty Command = iota
	CmdWriteSave
	CmdHello
	CmdReload
	CmdPidList
	CmdAttachProc
	CmdThreadList
	CmdMemLayout
	CmdReadMem
	CmdWriteMem
	CmdResume
	CmdQueryHandle

	CmdRemotePlay Command = 901
)

var Commands = map[Command]string{
	CmdEmpty:       "Heartbeat",
	CmdWriteSave:   "WriteSave",
	CmdHello:       "Hello",
	CmdReload:      "Reload",
	CmdPidList:     "PidList",
	CmdAttachProc:  "AttachProc",
	CmdThreadList:  "ThreadList",
	CmdMemLayout:   "MemLayout",
	CmdReadMem:     "ReadMem",
	CmdWriteMem:    "WriteMem",
	CmdResume:      "Resume",
	CmdQueryHandle: "QueryHandle",
	CmdRemotePlay:  "RemotePlay",
}

func (c Command) String() string {
	if name, ok := Commands[c]; ok {
		return name
	}
	return "Unknown"
}
