package mqttwire

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"
)

// Granted subscriptions are persisted so the agent can restore them after a
// restart: key = 's','b' + topic filter, value = [requested options, granted QoS].
var subKeyPrefix = []byte{'s', 'b'}

func (a *Agent) diskInit() error {
	dir := a.Store.Dir
	if dir == "" {
		hd, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		dir = filepath.Join(hd, ".mqttwire")
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return err
	}

	a.db = db
	return nil
}

func (a *Agent) diskStoreSub(topic string, options, granted uint8) error {
	k := append(append(make([]byte, 0, 2+len(topic)), subKeyPrefix...), topic...)
	return a.db.Set(k, []byte{options, granted}, pebble.Sync)
}

func (a *Agent) diskLoadSubs(f func(topic string, options, granted uint8)) error {
	dbIt, err := a.db.NewIter(prefixIterOptions(subKeyPrefix))
	if err != nil {
		return err
	}

	for dbIt.First(); dbIt.Valid(); dbIt.Next() {
		topic := string(dbIt.Key()[2:])
		v := dbIt.Value()
		if len(v) != 2 {
			continue
		}
		f(topic, v[0], v[1])
	}

	return dbIt.Close()
}

func (a *Agent) diskDeleteSub(topic string) error {
	k := append(append(make([]byte, 0, 2+len(topic)), subKeyPrefix...), topic...)
	return a.db.Delete(k, pebble.Sync)
}

func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i] = end[i] + 1
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // no upper-bound
}

func prefixIterOptions(prefix []byte) *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	}
}
