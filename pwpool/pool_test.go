package pwpool_test

import (
	"testing"

	"github.com/pwcore/node-graph/pwpool"
)

func TestAllocUnrefClosesFd(t *testing.T) {
	p := pwpool.New()
	b, err := p.Alloc(4096, pwpool.FlagReadwrite)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if b.Fd < 0 {
		t.Fatal("expected a valid fd")
	}
	if _, ok := p.FindID(b.ID); !ok {
		t.Fatal("block should be findable by id right after Alloc")
	}
	b.Unref()
	if _, ok := p.FindID(b.ID); ok {
		t.Fatal("block should be forgotten once refcount hits zero")
	}
}

func TestMapRefcountsSharedRegion(t *testing.T) {
	p := pwpool.New()
	b, err := p.Alloc(4096, pwpool.FlagReadwrite)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	m1, err := p.Map(b, 0, 4096, pwpool.FlagReadwrite)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	m2, err := p.Map(b, 0, 4096, pwpool.FlagReadwrite)
	if err != nil {
		t.Fatalf("second Map: %v", err)
	}
	if m1 != m2 {
		t.Fatal("identical (fd,offset,size) tuples must share one Mapping")
	}

	m1.Ptr[0] = 0xAB
	if m2.Ptr[0] != 0xAB {
		t.Fatal("shared mapping must alias the same memory")
	}

	if err := p.Unmap(m1); err != nil {
		t.Fatalf("Unmap m1: %v", err)
	}
	if err := p.Unmap(m2); err != nil {
		t.Fatalf("Unmap m2: %v", err)
	}

	// Mapping again after both unmaps must produce a fresh handle rather
	// than reuse a stale one.
	m3, err := p.Map(b, 0, 4096, pwpool.FlagReadwrite)
	if err != nil {
		t.Fatalf("Map after unmap: %v", err)
	}
	if m3 == m1 {
		t.Fatal("expected a fresh Mapping after both prior refs were released")
	}
	p.Unmap(m3)
	b.Unref()
}

func TestReadWriteMapRejectsReadOnlyBlock(t *testing.T) {
	p := pwpool.New()
	b, err := p.Alloc(4096, 0)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer b.Unref()

	if _, err := p.Map(b, 0, 4096, pwpool.FlagReadwrite); err == nil {
		t.Fatal("expected EACCES mapping a read-write view of a read-only block")
	}
}

func TestFindTagAndGC(t *testing.T) {
	p := pwpool.New()
	tag := pwpool.Tag{1, 2, 3, 0, 0}

	b1, _ := p.Alloc(64, pwpool.FlagReadwrite)
	b2, _ := p.Alloc(64, pwpool.FlagReadwrite)
	p.SetTag(b1, tag)
	p.SetTag(b2, tag)

	found := p.FindTag(tag)
	if len(found) != 2 {
		t.Fatalf("expected 2 blocks tagged, got %d", len(found))
	}

	p.GCTag(tag)
	if _, ok := p.FindID(b1.ID); ok {
		t.Fatal("b1 should have been GC'd by tag")
	}
	if _, ok := p.FindID(b2.ID); ok {
		t.Fatal("b2 should have been GC'd by tag")
	}
}

func TestImportAdoptsExternalFd(t *testing.T) {
	p := pwpool.New()
	donor, err := p.Alloc(4096, pwpool.FlagReadwrite)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	imported, err := p.Import(donor.Fd, 4096, pwpool.FlagReadwrite)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imported.ID == donor.ID {
		t.Fatal("import must allocate a fresh block id")
	}
	imported.Unref()
}

func TestImportRejectsInvalidFd(t *testing.T) {
	p := pwpool.New()
	if _, err := p.Import(-1, 4096, 0); err == nil {
		t.Fatal("expected EBADF-class error importing an invalid fd")
	}
}
