package syscall

import (
	"github.com/ucore-lineage/ucore/internal/kerr"
	"github.com/ucore-lineage/ucore/internal/ksync"
	"github.com/ucore-lineage/ucore/internal/proc"
)

func (d *Dispatcher) semInit(a Args) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSem
	d.nextSem++
	d.sems[id] = ksync.New(a.SemVal)
	return int64(id), nil
}

func (d *Dispatcher) lookupSem(id int) (*ksync.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sems[id]
	if !ok {
		return nil, kerr.ErrInval
	}
	return s, nil
}

func (d *Dispatcher) semUp(t *proc.Task, a Args) (int64, error) {
	s, err := d.lookupSem(a.SemID)
	if err != nil {
		return -1, err
	}
	s.Up()
	return 0, nil
}

func (d *Dispatcher) semDown(t *proc.Task, a Args) (int64, error) {
	s, err := d.lookupSem(a.SemID)
	if err != nil {
		return -1, err
	}
	s.Down(t)
	return 0, nil
}

func (d *Dispatcher) semGetValue(a Args) (int64, error) {
	s, err := d.lookupSem(a.SemID)
	if err != nil {
		return -1, err
	}
	return int64(s.Value()), nil
}
