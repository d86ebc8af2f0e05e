package hpo

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

//////
// Const, vars, types.
//////

// Journal persists completed trials so that an interrupted search can
// resume without re-running them.
type Journal interface {
	// Append durably stores a trial. Trials arrive in index order.
	Append(ctx context.Context, t Trial) error

	// Replay returns every stored trial in index order.
	Replay(ctx context.Context) ([]Trial, error)

	// Close releases the underlying store.
	Close() error
}

// JournalConfig configures a BadgerJournal.
type JournalConfig struct {
	// Path is the directory for BadgerDB files. Required unless InMemory.
	Path string

	// Run scopes the journal to one search session; it is the key prefix,
	// so several runs can share a directory. It must not contain ':', the
	// key separator.
	Run string `validate:"required,excludes=:"`

	// InMemory uses an in-memory BadgerDB (for testing).
	InMemory bool

	// SyncWrites makes every append durable before it returns.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines.
	Logger zerolog.Logger `validate:"-"`
}

// DefaultJournalConfig returns durable defaults for the run "default".
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		Run:        "default",
		SyncWrites: true,
		Logger:     log.Logger,
	}
}

// BadgerJournal is a Journal backed by BadgerDB. Each trial is stored under
// `trial:<run>:<index>` as a CRC32-prefixed JSON document.
type BadgerJournal struct {
	db     *badger.DB
	config JournalConfig
	closed atomic.Bool
}

// badgerLogger adapts zerolog to BadgerDB's Logger interface.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}

//////
// Factory.
//////

// OpenBadgerJournal opens (or creates) the journal described by config.
func OpenBadgerJournal(config JournalConfig) (*BadgerJournal, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("%w: journal: %v", ErrInvalidConfig, err)
	}

	var opts badger.Options

	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.Path == "" {
			return nil, errors.New("journal: path is required for persistent journal")
		}

		if err := os.MkdirAll(config.Path, 0o750); err != nil {
			return nil, fmt.Errorf("journal: create directory %s: %w", config.Path, err)
		}

		opts = badger.DefaultOptions(config.Path)
	}

	opts = opts.
		WithSyncWrites(config.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{logger: config.Logger.With().Str("component", "badger").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("journal: open badger: %w", err)
	}

	return &BadgerJournal{db: db, config: config}, nil
}

//////
// Methods.
//////

func (j *BadgerJournal) prefix() []byte {
	return []byte(fmt.Sprintf("trial:%s:", j.config.Run))
}

func (j *BadgerJournal) key(index int) []byte {
	return []byte(fmt.Sprintf("trial:%s:%016d", j.config.Run, index))
}

// Append implements Journal.
func (j *BadgerJournal) Append(ctx context.Context, t Trial) error {
	if j.closed.Load() {
		return ErrJournalClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeEntry(t)
	if err != nil {
		return err
	}

	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(j.key(t.Index), data)
	})
}

// Replay implements Journal.
func (j *BadgerJournal) Replay(ctx context.Context) ([]Trial, error) {
	if j.closed.Load() {
		return nil, ErrJournalClosed
	}

	var trials []Trial

	prefix := j.prefix()

	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()

			err := item.Value(func(val []byte) error {
				t, err := decodeEntry(val)
				if err != nil {
					return fmt.Errorf("%s: %w", item.Key(), err)
				}

				if t.Index != len(trials) {
					return fmt.Errorf("%w: expected trial %d, got %d", ErrJournalCorrupted, len(trials), t.Index)
				}

				trials = append(trials, t)

				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: replay: %w", err)
	}

	return trials, nil
}

// Close implements Journal. Safe to call multiple times.
func (j *BadgerJournal) Close() error {
	if j.closed.Swap(true) {
		return nil
	}

	return j.db.Close()
}

// encodeEntry frames a trial as [4-byte CRC32][JSON].
func encodeEntry(t Trial) ([]byte, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("journal: encode trial %d: %w", t.Index, err)
	}

	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], crc32.ChecksumIEEE(payload))
	copy(out[4:], payload)

	return out, nil
}

// decodeEntry validates the checksum and decodes the trial.
func decodeEntry(data []byte) (Trial, error) {
	var t Trial

	if len(data) < 5 {
		return t, fmt.Errorf("%w: entry too short", ErrJournalCorrupted)
	}

	stored := binary.BigEndian.Uint32(data[:4])
	if computed := crc32.ChecksumIEEE(data[4:]); stored != computed {
		return t, fmt.Errorf("%w: stored=%08x computed=%08x", ErrJournalCorrupted, stored, computed)
	}

	if err := json.Unmarshal(data[4:], &t); err != nil {
		return t, fmt.Errorf("%w: %v", ErrJournalCorrupted, err)
	}

	return t, nil
}
