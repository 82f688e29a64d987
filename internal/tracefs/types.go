package tracefs

import (
	"fmt"
	"os"
)

// ProbeType distinguishes the two kinds of dynamic trace events.
type ProbeType uint8

const (
	KprobeType ProbeType = iota
	UprobeType
)

func (pt ProbeType) String() string {
	if pt == KprobeType {
		return "kprobe"
	}
	return "uprobe"
}

// EventsFile opens the tracefs control file for the probe type.
func (pt ProbeType) EventsFile() (*os.File, error) {
	path, err := sanitizePath(fmt.Sprintf("%s_events", pt.String()))
	if err != nil {
		return nil, err
	}

	return os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0666)
}

// ProbeArgs describes a dynamic trace event to be created.
type ProbeArgs struct {
	Type          ProbeType
	Symbol, Group string
	// Path is the target binary, uprobes only.
	Path   string
	Offset uint64
	Ret    bool
}
