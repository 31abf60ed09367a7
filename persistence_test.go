package mqttwire

import "testing"

func TestDiskSubRoundtrip(t *testing.T) {
	a := &Agent{}
	a.Store.Dir = t.TempDir()
	if err := a.diskInit(); err != nil {
		t.Fatal(err)
	}
	defer a.db.Close()

	if err := a.diskStoreSub("sensors/#", 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := a.diskStoreSub("alerts", 2, 1); err != nil {
		t.Fatal(err)
	}

	loaded := make(map[string][2]uint8, 2)
	err := a.diskLoadSubs(func(topic string, options, granted uint8) {
		loaded[topic] = [2]uint8{options, granted}
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Fatal(loaded)
	}
	if loaded["sensors/#"] != [2]uint8{1, 1} || loaded["alerts"] != [2]uint8{2, 1} {
		t.Fatal(loaded)
	}

	if err = a.diskDeleteSub("alerts"); err != nil {
		t.Fatal(err)
	}

	n := 0
	err = a.diskLoadSubs(func(topic string, options, granted uint8) { n++ })
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatal("delete did not stick:", n)
	}
}

func TestDiskStoreSubOverwrite(t *testing.T) {
	a := &Agent{}
	a.Store.Dir = t.TempDir()
	if err := a.diskInit(); err != nil {
		t.Fatal(err)
	}
	defer a.db.Close()

	if err := a.diskStoreSub("t", 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := a.diskStoreSub("t", 1, 1); err != nil {
		t.Fatal(err)
	}

	var got [2]uint8
	err := a.diskLoadSubs(func(topic string, options, granted uint8) {
		got = [2]uint8{options, granted}
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != [2]uint8{1, 1} {
		t.Fatal(got)
	}
}
