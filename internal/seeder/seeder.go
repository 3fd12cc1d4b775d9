package seeder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytfeeds/internal/ctxlogger"
	"fknsrs.biz/p/ytfeeds/internal/syncer"
	"fknsrs.biz/p/ytfeeds/models"
)

const SeededSettingKey = "default_channels_seeded"

var DefaultChannels = []string{
	"@adahasekathuwa",
	"@BuddhismInEnglish",
	"@BuddhismTheRoadtoNirvana",
	"@BuduDahama",
	"@budubanasrilanka",
	"@Dharmadeshana-new",
	"@DiwiMaga",
	"@mahamevnawa",
	"@PragnaTV",
	"@ShraddhaTV",
	"@shraddhatvdhammaseries",
	"@ShraddhaTVLive",
	"@ShraddhaTVNews",
	"@theravada2",
	"@Thero_Bana",
	"@AhasGawwa",
	"@යථාර්ථය",
	"@-SasaraGanudenu",
	"@bomaluwatv",
	"@Yakkproduction",
	"@NirvanaTV",
	"@-sadahammawatha2003",
	"@niwanatamaga3525",
	"@Sldhammatv00",
	"@SasaraJayagamu",
	"@GaligamuweGnanadeepaThero",
	"@sathpurushaasura7641",
	"@NethFMBana",
}

type Store interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
	ChannelExists(ctx context.Context, id string) (bool, error)
	UpsertChannel(ctx context.Context, in models.ChannelInput) error
	CountChannels(ctx context.Context) (int, error)
}

type Syncer interface {
	ResolveChannel(ctx context.Context, input string) (*models.ChannelInput, error)
	RefreshChannel(ctx context.Context, channelID string, pageSize int) ([]models.Video, error)
}

type State string

const (
	NotSeeded = State("not_seeded")
	Seeding   = State("seeding")
	Seeded    = State("seeded")
)

type Options struct {
	// Delay is waited between channels to stay under upstream limits.
	Delay    time.Duration
	PageSize int
}

type Seeder struct {
	store    Store
	syncer   Syncer
	defaults []string
	opts     Options

	m       sync.Mutex
	running bool
}

func New(store Store, syncer Syncer, defaults []string, opts Options) *Seeder {
	return &Seeder{store: store, syncer: syncer, defaults: defaults, opts: opts}
}

// State reads the seeded flag, but a flag left behind in a store with no
// channels counts as not seeded.
func (s *Seeder) State(ctx context.Context) (State, error) {
	s.m.Lock()
	running := s.running
	s.m.Unlock()

	if running {
		return Seeding, nil
	}

	v, ok, err := s.store.GetSetting(ctx, SeededSettingKey)
	if err != nil {
		return "", fmt.Errorf("seeder.State: %w", err)
	}
	if !ok || v != "true" {
		return NotSeeded, nil
	}

	n, err := s.store.CountChannels(ctx)
	if err != nil {
		return "", fmt.Errorf("seeder.State: %w", err)
	}
	if n == 0 {
		return NotSeeded, nil
	}

	return Seeded, nil
}

// SeedDefaultChannelsIfNeeded subscribes to each default channel in turn
// unless seeding already happened or is under way. The flag is only set if
// at least one channel made it in, so a run with no network is retried on
// the next start.
func (s *Seeder) SeedDefaultChannelsIfNeeded(ctx context.Context) (syncer.Tally, error) {
	var t syncer.Tally

	l := ctxlogger.GetLogger(ctx)

	state, err := s.State(ctx)
	if err != nil {
		return t, fmt.Errorf("seeder.SeedDefaultChannelsIfNeeded: %w", err)
	}
	if state != NotSeeded {
		l.WithField("seeder.state", state).Debug("seeder.SeedDefaultChannelsIfNeeded: nothing to do")
		return t, nil
	}

	s.m.Lock()
	if s.running {
		s.m.Unlock()
		return t, nil
	}
	s.running = true
	s.m.Unlock()

	defer func() {
		s.m.Lock()
		s.running = false
		s.m.Unlock()
	}()

	l.WithField("seeder.channels", len(s.defaults)).Info("seeder.SeedDefaultChannelsIfNeeded: seeding")

	var runErr error

	for i, input := range s.defaults {
		if i > 0 && s.opts.Delay > 0 {
			select {
			case <-time.After(s.opts.Delay):
			case <-ctx.Done():
				runErr = ctx.Err()
			}
		}

		if runErr != nil {
			break
		}

		if err := s.seedOne(ctx, input); err != nil {
			l.WithError(err).WithField("seeder.input", input).Warn("seeder.SeedDefaultChannelsIfNeeded: channel failed")
			t.Fail(input, err)
			continue
		}

		t.Succeed(input)
	}

	// channels already stored stay recorded even when the run was cut short
	if len(t.Succeeded) > 0 {
		if err := s.store.SetSetting(context.WithoutCancel(ctx), SeededSettingKey, "true"); err != nil {
			return t, fmt.Errorf("seeder.SeedDefaultChannelsIfNeeded: %w", err)
		}
	}

	l.WithFields(logrus.Fields{
		"seeder.succeeded": len(t.Succeeded),
		"seeder.failed":    len(t.Failed),
	}).Info("seeder.SeedDefaultChannelsIfNeeded: done")

	if runErr != nil {
		return t, fmt.Errorf("seeder.SeedDefaultChannelsIfNeeded: %w", runErr)
	}

	return t, nil
}

// seedOne leaves channels that are already stored alone. A failed first
// page does not undo the subscription.
func (s *Seeder) seedOne(ctx context.Context, input string) error {
	in, err := s.syncer.ResolveChannel(ctx, input)
	if err != nil {
		return fmt.Errorf("seeder.seedOne: %w", err)
	}

	exists, err := s.store.ChannelExists(ctx, in.ID)
	if err != nil {
		return fmt.Errorf("seeder.seedOne: %w", err)
	}
	if exists {
		return nil
	}

	if err := s.store.UpsertChannel(ctx, *in); err != nil {
		return fmt.Errorf("seeder.seedOne: %w", err)
	}

	if _, err := s.syncer.RefreshChannel(ctx, in.ID, s.opts.PageSize); err != nil {
		ctxlogger.GetLogger(ctx).WithError(err).WithField("channel.id", in.ID).Warn("seeder.seedOne: could not fetch first page")
	}

	return nil
}

// Reseed clears the flag and seeds again. Stored channels are kept.
func (s *Seeder) Reseed(ctx context.Context) (syncer.Tally, error) {
	if err := s.store.DeleteSetting(ctx, SeededSettingKey); err != nil {
		return syncer.Tally{}, fmt.Errorf("seeder.Reseed: %w", err)
	}

	t, err := s.SeedDefaultChannelsIfNeeded(ctx)
	if err != nil {
		return t, fmt.Errorf("seeder.Reseed: %w", err)
	}

	return t, nil
}
