package nvm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"
)

func TestNewSqliteStorage(t *testing.T) {
	t.Run("Good setup with no previous db", func(t *testing.T) {
		dir := t.TempDir()
		s, err := NewSqliteStorage(context.Background(), dir)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, s.db, test.ShouldNotBeNil)
		test.That(t, s.Close(), test.ShouldBeNil)

		_, err = os.Stat(filepath.Join(dir, dbFileName))
		test.That(t, err, test.ShouldBeNil)
	})

	t.Run("Good setup that migrates an eeprom image", func(t *testing.T) {
		dir := t.TempDir()
		image := []byte{0xAA, 0xBB, 0xCC, 0xDD}
		err := os.WriteFile(filepath.Join(dir, imageFileName), image, 0o600)
		test.That(t, err, test.ShouldBeNil)

		s, err := NewSqliteStorage(context.Background(), dir)
		test.That(t, err, test.ShouldBeNil)
		defer s.Close()

		data, err := s.Read(context.Background(), Bank0, 0, 6)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, data, test.ShouldResemble, []byte{0xAA, 0xBB, 0xCC, 0xDD, 0x00, 0x00})

		// the image is removed once migrated
		_, err = os.Stat(filepath.Join(dir, imageFileName))
		test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	})

	t.Run("Good setup that reuses a db", func(t *testing.T) {
		dir := t.TempDir()
		s, err := NewSqliteStorage(context.Background(), dir)
		test.That(t, err, test.ShouldBeNil)
		err = s.Write(context.Background(), Bank0, 20, []byte{1, 2, 3})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, s.Close(), test.ShouldBeNil)

		s, err = NewSqliteStorage(context.Background(), dir)
		test.That(t, err, test.ShouldBeNil)
		defer s.Close()
		data, err := s.Read(context.Background(), Bank0, 20, 3)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, data, test.ShouldResemble, []byte{1, 2, 3})
	})

	t.Run("Bad setup with a missing directory", func(t *testing.T) {
		_, err := NewSqliteStorage(context.Background(), filepath.Join(t.TempDir(), "missing"))
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestSqliteReadWrite(t *testing.T) {
	s, err := NewSqliteStorage(context.Background(), t.TempDir())
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()
	ctx := context.Background()

	// unwritten bytes read as zero
	data, err := s.Read(ctx, Bank0, 100, 4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldResemble, []byte{0, 0, 0, 0})

	err = s.Write(ctx, Bank0, 2, []byte{0x10, 0x20})
	test.That(t, err, test.ShouldBeNil)
	err = s.Write(ctx, Bank0, 3, []byte{0x30})
	test.That(t, err, test.ShouldBeNil)

	data, err = s.Read(ctx, Bank0, 0, 5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldResemble, []byte{0, 0, 0x10, 0x30, 0})

	// banks are independent
	data, err = s.Read(ctx, Bank(1), 2, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldResemble, []byte{0, 0})

	test.That(t, s.Close(), test.ShouldBeNil)
	_, err = s.Read(ctx, Bank0, 0, 1)
	test.That(t, err, test.ShouldBeError, errNoDB)
	err = s.Write(ctx, Bank0, 0, []byte{1})
	test.That(t, err, test.ShouldBeError, errNoDB)
}

func TestManagerOverSqlite(t *testing.T) {
	dir := t.TempDir()
	logger := logging.NewTestLogger(t)
	ctx := context.Background()

	s, err := NewSqliteStorage(ctx, dir)
	test.That(t, err, test.ShouldBeNil)
	m := NewManager(s, DefaultLayout(FixedArea(16)), logger)
	outcome, err := m.ResetIfNeeded(ctx, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, outcome, test.ShouldEqual, OutcomeReset)
	err = m.WriteSEBlock(ctx, []byte{9, 9, 9, 0x00, 0x05})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Close(), test.ShouldBeNil)

	// state survives a reopen
	s, err = NewSqliteStorage(ctx, dir)
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()
	m = NewManager(s, DefaultLayout(FixedArea(16)), logger)
	outcome, err = m.ResetIfNeeded(ctx, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, outcome, test.ShouldEqual, OutcomeSkipped)
	se, err := m.ReadSEBlock(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, se, test.ShouldResemble, []byte{9, 9, 9, 0x00, 0x05})
}
