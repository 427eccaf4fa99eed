package segment

import (
	"os"
	"testing"
)

func TestFileAppendReadSeal(t *testing.T) {
	dir := t.TempDir()

	f, err := Open(dir, OpenOptions{StartOffset: 0, DurableSync: true})
	if err != nil {
		t.Fatal(err)
	}

	recs := make([]*Record, 5)
	for i := range recs {
		recs[i] = &Record{Key: []byte("k"), Value: []byte("v")}
	}
	offsets, _, err := f.Append(recs)
	if err != nil {
		t.Fatal(err)
	}
	for i, off := range offsets {
		if off != uint64(i) {
			t.Fatalf("offset[%d] = %d, want %d", i, off, i)
		}
	}

	got, err := f.ReadAt(0, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("read %d records, want 5", len(got))
	}
	for i, r := range got {
		if r.Offset != uint64(i) {
			t.Errorf("record[%d].Offset = %d, want %d", i, r.Offset, i)
		}
	}

	start, end, err := f.Seal()
	if err != nil {
		t.Fatal(err)
	}
	if start != 0 || end != 4 {
		t.Fatalf("seal range = [%d,%d], want [0,4]", start, end)
	}
	if !f.IsSealed() {
		t.Fatal("expected sealed")
	}
	if _, _, err := f.Append(recs); err != ErrSealed {
		t.Fatalf("append after seal: got %v, want ErrSealed", err)
	}
	f.Close()
}

func TestFileReopenRecoversOffset(t *testing.T) {
	dir := t.TempDir()

	f, err := Open(dir, OpenOptions{StartOffset: 0, DurableSync: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.Append([]*Record{{Key: []byte("a")}, {Key: []byte("b")}}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	f2, err := Open(dir, OpenOptions{StartOffset: 0, DurableSync: true})
	if err != nil {
		t.Fatal(err)
	}
	defer f2.Close()
	if got := f2.NextOffset(); got != 2 {
		t.Fatalf("NextOffset after reopen = %d, want 2", got)
	}
}

func TestDeleteRemovesDir(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(dir, OpenOptions{DurableSync: true})
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	if err := Delete(dir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected dir removed, stat err = %v", err)
	}
}
