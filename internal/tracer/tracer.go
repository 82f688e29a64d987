// Package tracer loads a compiled program, attaches it to the configured
// hooks and periodically dumps map contents.
package tracer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	bpf "github.com/arcjustin/bpf-api"
	"github.com/arcjustin/bpf-api/link"
)

// Tracer owns all kernel objects created from a Config.
type Tracer struct {
	log *logrus.Logger
	cfg *Config

	maps  map[string]*bpf.Map
	prog  *bpf.Program
	links []link.Link
}

// New creates the maps and loads the program described by cfg. Nothing is
// attached yet; call Run.
func New(log *logrus.Logger, cfg *Config) (*Tracer, error) {
	t := &Tracer{
		log:  log,
		cfg:  cfg,
		maps: make(map[string]*bpf.Map, len(cfg.Maps)),
	}

	if err := t.createMaps(); err != nil {
		t.Close()
		return nil, err
	}

	if err := t.loadProgram(); err != nil {
		t.Close()
		return nil, err
	}

	return t, nil
}

func (t *Tracer) createMaps() error {
	for _, mc := range t.cfg.Maps {
		typ, err := mapType(mc.Type)
		if err != nil {
			return err
		}

		m, err := bpf.NewMap(&bpf.MapSpec{
			Name:       mc.Name,
			Type:       typ,
			KeySize:    mc.KeySize,
			ValueSize:  mc.ValueSize,
			MaxEntries: mc.MaxEntries,
		})
		if err != nil {
			return fmt.Errorf("creating map %q: %w", mc.Name, err)
		}

		t.log.WithFields(logrus.Fields{
			"name": mc.Name,
			"type": typ,
			"fd":   m.FD(),
		}).Debug("created map")

		t.maps[mc.Name] = m
	}

	return nil
}

func (t *Tracer) loadProgram() error {
	raw, err := os.ReadFile(t.cfg.Program.Bytecode)
	if err != nil {
		return fmt.Errorf("reading bytecode: %w", err)
	}

	relocs := make([]bpf.Relocation, 0, len(t.cfg.Program.Relocations))
	for _, r := range t.cfg.Program.Relocations {
		relocs = append(relocs, bpf.Relocation{Insn: r.Insn, Map: r.Map})
	}

	code, err := bpf.BytecodeFromRaw(raw, relocs)
	if err != nil {
		return fmt.Errorf("parsing bytecode: %w", err)
	}

	typ, err := programType(t.cfg.Program.Type)
	if err != nil {
		return err
	}

	prog, err := bpf.NewProgram(&bpf.ProgramSpec{
		Name:    "bpftracer",
		Type:    typ,
		Code:    code,
		Maps:    t.maps,
		License: t.cfg.Program.License,
	})
	if err != nil {
		var verr *bpf.VerifierError
		if errors.As(err, &verr) {
			t.log.WithField("log", verr.Log).Error("program rejected by verifier")
		}
		return fmt.Errorf("loading program: %w", err)
	}

	t.log.WithFields(logrus.Fields{
		"type":  typ,
		"insns": code.Size(),
		"fd":    prog.FD(),
	}).Info("loaded program")

	t.prog = prog
	return nil
}

// Run attaches the program to all configured probes and dumps the
// configured map until ctx is cancelled.
func (t *Tracer) Run(ctx context.Context) error {
	for _, pc := range t.cfg.Probes {
		spec, err := probeSpec(pc)
		if err != nil {
			return err
		}

		l, err := link.Attach(spec, t.prog)
		if err != nil {
			return fmt.Errorf("attaching %s: %w", pc.Kind, err)
		}
		t.links = append(t.links, l)

		t.log.WithFields(logrus.Fields{
			"kind":   pc.Kind,
			"symbol": pc.Symbol,
			"name":   pc.Name,
		}).Info("attached probe")
	}

	if t.cfg.DumpMap == "" {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.dump(t.maps[t.cfg.DumpMap])
		}
	}
}

func (t *Tracer) dump(m *bpf.Map) {
	key := make([]byte, m.KeySize())
	value := make([]byte, m.ValueSize())

	var entries int
	iter := m.Iterate()
	for iter.Next(key, value) {
		t.log.WithFields(logrus.Fields{
			"key":   hex.EncodeToString(key),
			"value": hex.EncodeToString(value),
		}).Info("entry")
		entries++
	}
	if err := iter.Err(); err != nil {
		t.log.WithError(err).Warn("iterating map")
		return
	}

	t.log.WithField("entries", entries).Debug("dumped map")
}

// Close tears down all kernel objects in reverse dependency order:
// links, then the program, then the maps.
func (t *Tracer) Close() error {
	var firstErr error

	for _, l := range t.links {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.links = nil

	if err := t.prog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	t.prog = nil

	for name, m := range t.maps {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.maps, name)
	}

	return firstErr
}

func mapType(s string) (bpf.MapType, error) {
	switch s {
	case "hash":
		return bpf.Hash, nil
	case "array":
		return bpf.Array, nil
	case "queue":
		return bpf.Queue, nil
	case "stack":
		return bpf.Stack, nil
	default:
		return bpf.UnspecifiedMap, fmt.Errorf("unknown map type %q", s)
	}
}

func programType(s string) (bpf.ProgramType, error) {
	switch s {
	case "kprobe":
		return bpf.Kprobe, nil
	case "tracepoint":
		return bpf.TracePoint, nil
	case "raw_tracepoint":
		return bpf.RawTracepoint, nil
	default:
		return bpf.UnspecifiedProgram, fmt.Errorf("unknown program type %q", s)
	}
}

func probeSpec(pc ProbeConfig) (link.ProbeSpec, error) {
	switch pc.Kind {
	case "kprobe":
		return link.KProbe{Symbol: pc.Symbol, Offset: pc.Offset}, nil
	case "kretprobe":
		return link.KProbe{Symbol: pc.Symbol, Return: true}, nil
	case "uprobe":
		return link.UProbe{Path: pc.Path, Symbol: pc.Symbol, Offset: pc.Offset}, nil
	case "uretprobe":
		return link.UProbe{Path: pc.Path, Symbol: pc.Symbol, Return: true}, nil
	case "tracepoint":
		return link.Tracepoint{Group: pc.Group, Name: pc.Name}, nil
	case "raw_tracepoint":
		return link.RawTracepoint{Name: pc.Name}, nil
	default:
		return nil, fmt.Errorf("unknown probe kind %q", pc.Kind)
	}
}
