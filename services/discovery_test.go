package services

import (
	"call-lab/domain"
	"call-lab/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

// fakeDirectory simulates the remote bridge directory.
// Func fields allow per-test behavior injection; calls are recorded.
type fakeDirectory struct {
	listFunc func(ctx context.Context) (map[string]domain.ProtocolInfo, error)
	findFunc func(ctx context.Context, protocol string, fields map[string]string) ([]domain.ThirdPartyUser, error)

	listCalls atomic.Int32

	mu    sync.Mutex
	finds []findCall
}

type findCall struct {
	protocol string
	fields   map[string]string
}

func (d *fakeDirectory) ListProtocols(ctx context.Context) (map[string]domain.ProtocolInfo, error) {
	d.listCalls.Add(1)
	if d.listFunc != nil {
		return d.listFunc(ctx)
	}
	return nil, fmt.Errorf("list protocols not stubbed")
}

func (d *fakeDirectory) FindUsers(ctx context.Context, protocol string, fields map[string]string) ([]domain.ThirdPartyUser, error) {
	d.mu.Lock()
	d.finds = append(d.finds, findCall{protocol: protocol, fields: fields})
	d.mu.Unlock()
	if d.findFunc != nil {
		return d.findFunc(ctx, protocol, fields)
	}
	return nil, nil
}

func (d *fakeDirectory) findCalls() []findCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]findCall(nil), d.finds...)
}

func protocolMap(ids ...string) map[string]domain.ProtocolInfo {
	protocols := make(map[string]domain.ProtocolInfo, len(ids))
	for _, id := range ids {
		protocols[id] = domain.ProtocolInfo{DisplayName: id}
	}
	return protocols
}

// recordingListener counts capability callbacks.
type recordingListener struct {
	mu      sync.Mutex
	pstn    int
	virtual int
}

func (l *recordingListener) OnPSTNSupportUpdated() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pstn++
}

func (l *recordingListener) OnVirtualRoomSupportUpdated() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.virtual++
}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pstn, l.virtual
}

// panickingListener blows up on every callback.
type panickingListener struct{}

func (panickingListener) OnPSTNSupportUpdated()        { panic("broken listener") }
func (panickingListener) OnVirtualRoomSupportUpdated() { panic("broken listener") }

func TestDiscoveryService_PreferredProtocolWins(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	directory := &fakeDirectory{
		listFunc: func(ctx context.Context) (map[string]domain.ProtocolInfo, error) {
			// Given a bridge advertising both telephony identifiers
			return protocolMap(domain.ProtocolPSTN, domain.ProtocolPSTNLegacy,
				domain.ProtocolSIPVirtual, domain.ProtocolSIPNative), nil
		},
	}
	svc := NewDiscoveryService(log, directory)

	// When discovery completes
	svc.CheckProtocols()
	req.NoError(svc.AwaitProtocolsChecked(context.Background()))

	// Then the preferred identifier wins over the legacy one
	req.Equal(domain.ProtocolPSTN, svc.SupportedPSTNProtocol())
	req.True(svc.SupportsVirtualRooms())
	req.EqualValues(1, directory.listCalls.Load())
}

func TestDiscoveryService_LegacyProtocolFallback(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	directory := &fakeDirectory{
		listFunc: func(ctx context.Context) (map[string]domain.ProtocolInfo, error) {
			return protocolMap(domain.ProtocolPSTNLegacy), nil
		},
	}
	svc := NewDiscoveryService(log, directory)

	svc.CheckProtocols()
	req.NoError(svc.AwaitProtocolsChecked(context.Background()))

	req.Equal(domain.ProtocolPSTNLegacy, svc.SupportedPSTNProtocol())
	req.False(svc.SupportsVirtualRooms())
}

func TestDiscoveryService_VirtualRoomsNeedBothSIPIdentifiers(t *testing.T) {
	tests := []struct {
		description string
		protocols   []string
		want        bool
	}{
		{"Should be false with the virtual identifier alone", []string{domain.ProtocolSIPVirtual}, false},
		{"Should be false with the native identifier alone", []string{domain.ProtocolSIPNative}, false},
		{"Should be true with both identifiers", []string{domain.ProtocolSIPVirtual, domain.ProtocolSIPNative}, true},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			req := require.New(t)
			log := logs.GetLoggerFromLevel(slog.LevelDebug)
			directory := &fakeDirectory{
				listFunc: func(ctx context.Context) (map[string]domain.ProtocolInfo, error) {
					return protocolMap(tt.protocols...), nil
				},
			}
			svc := NewDiscoveryService(log, directory)

			svc.CheckProtocols()
			req.NoError(svc.AwaitProtocolsChecked(context.Background()))

			req.Equal(tt.want, svc.SupportsVirtualRooms())
		})
	}
}

func TestDiscoveryService_SingleFlight(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	release := make(chan struct{})
	directory := &fakeDirectory{
		listFunc: func(ctx context.Context) (map[string]domain.ProtocolInfo, error) {
			// Block the run so concurrent triggers pile up on it
			<-release
			return protocolMap(domain.ProtocolPSTN), nil
		},
	}
	svc := NewDiscoveryService(log, directory)

	// When discovery is triggered many times concurrently
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.CheckProtocols()
		}()
	}
	wg.Wait()
	close(release)

	req.NoError(svc.AwaitProtocolsChecked(context.Background()))

	// Then a single remote call was made
	req.EqualValues(1, directory.listCalls.Load())
}

func TestDiscoveryService_RetriesThenAbandons(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	directory := &fakeDirectory{
		listFunc: func(ctx context.Context) (map[string]domain.ProtocolInfo, error) {
			return nil, fmt.Errorf("bridge unreachable")
		},
	}
	svc := NewDiscoveryService(log, directory)
	svc.retryWait = time.Millisecond

	// When every attempt fails
	err := svc.AwaitProtocolsChecked(context.Background())

	// Then the run is abandoned after three attempts and the state stays unchecked
	req.ErrorIs(err, errors.ErrDiscoveryAbandoned)
	req.EqualValues(3, directory.listCalls.Load())
	req.False(svc.ProtocolsChecked())
	req.Empty(svc.SupportedPSTNProtocol())
	req.False(svc.SupportsVirtualRooms())

	// When the bridge comes back and discovery is triggered again
	directory.listFunc = func(ctx context.Context) (map[string]domain.ProtocolInfo, error) {
		return protocolMap(domain.ProtocolPSTN), nil
	}
	req.NoError(svc.AwaitProtocolsChecked(context.Background()))

	// Then the later run started from scratch
	req.EqualValues(4, directory.listCalls.Load())
	req.Equal(domain.ProtocolPSTN, svc.SupportedPSTNProtocol())
}

func TestDiscoveryService_SecondAttemptSucceeds(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	var attempts atomic.Int32
	directory := &fakeDirectory{}
	directory.listFunc = func(ctx context.Context) (map[string]domain.ProtocolInfo, error) {
		if attempts.Add(1) == 1 {
			return nil, fmt.Errorf("flaky bridge")
		}
		return protocolMap(domain.ProtocolPSTN), nil
	}
	svc := NewDiscoveryService(log, directory)
	svc.retryWait = time.Millisecond

	req.NoError(svc.AwaitProtocolsChecked(context.Background()))

	req.EqualValues(2, directory.listCalls.Load())
	req.True(svc.ProtocolsChecked())
}

func TestDiscoveryService_ListenersNotifiedOncePerCapability(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	directory := &fakeDirectory{
		listFunc: func(ctx context.Context) (map[string]domain.ProtocolInfo, error) {
			// Virtual rooms supported, no telephony protocol at all
			return protocolMap(domain.ProtocolSIPVirtual, domain.ProtocolSIPNative), nil
		},
	}
	svc := NewDiscoveryService(log, directory)
	first := &recordingListener{}
	second := &recordingListener{}
	svc.AddListener(first)
	svc.AddListener(first) // idempotent
	svc.AddListener(second)

	svc.CheckProtocols()
	req.NoError(svc.AwaitProtocolsChecked(context.Background()))

	// Then exactly one notification fired per listener, only for the
	// capability that became available
	pstn, virtual := first.counts()
	req.Zero(pstn)
	req.Equal(1, virtual)
	pstn, virtual = second.counts()
	req.Zero(pstn)
	req.Equal(1, virtual)

	// And re-triggering after success notifies nobody again
	svc.CheckProtocols()
	req.NoError(svc.AwaitProtocolsChecked(context.Background()))
	_, virtual = first.counts()
	req.Equal(1, virtual)
}

func TestDiscoveryService_PanickingListenerIsolated(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	directory := &fakeDirectory{
		listFunc: func(ctx context.Context) (map[string]domain.ProtocolInfo, error) {
			return protocolMap(domain.ProtocolPSTN, domain.ProtocolSIPVirtual, domain.ProtocolSIPNative), nil
		},
	}
	svc := NewDiscoveryService(log, directory)
	healthy := &recordingListener{}
	// Given a broken listener registered before a healthy one
	svc.AddListener(panickingListener{})
	svc.AddListener(healthy)

	svc.CheckProtocols()
	req.NoError(svc.AwaitProtocolsChecked(context.Background()))

	// Then the healthy listener still received every notification
	pstn, virtual := healthy.counts()
	req.Equal(1, pstn)
	req.Equal(1, virtual)
}

func TestDiscoveryService_AwaitHonorsContext(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	directory := &fakeDirectory{
		listFunc: func(ctx context.Context) (map[string]domain.ProtocolInfo, error) {
			<-release
			return nil, fmt.Errorf("too late")
		},
	}
	svc := NewDiscoveryService(log, directory)
	svc.retryWait = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Then the caller gives up on its own deadline while the run keeps going
	err := svc.AwaitProtocolsChecked(ctx)
	req.ErrorIs(err, context.DeadlineExceeded)
}

func TestDiscoveryService_AwaitReturnsImmediatelyOnceChecked(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	directory := &fakeDirectory{
		listFunc: func(ctx context.Context) (map[string]domain.ProtocolInfo, error) {
			return protocolMap(domain.ProtocolPSTN), nil
		},
	}
	svc := NewDiscoveryService(log, directory)
	req.NoError(svc.AwaitProtocolsChecked(context.Background()))
	req.EqualValues(1, directory.listCalls.Load())

	// Given an already cancelled context
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Then a checked service never suspends the caller
	req.NoError(svc.AwaitProtocolsChecked(ctx))
	req.EqualValues(1, directory.listCalls.Load())
}

func TestDiscoveryService_LateListenerMissesPastNotifications(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	directory := &fakeDirectory{
		listFunc: func(ctx context.Context) (map[string]domain.ProtocolInfo, error) {
			return protocolMap(domain.ProtocolSIPVirtual, domain.ProtocolSIPNative), nil
		},
	}
	svc := NewDiscoveryService(log, directory)
	req.NoError(svc.AwaitProtocolsChecked(context.Background()))

	// When a listener registers after discovery already completed
	late := &recordingListener{}
	svc.AddListener(late)

	// Then it is not retro-notified but can read the flags directly
	_, virtual := late.counts()
	req.Zero(virtual)
	req.True(svc.SupportsVirtualRooms())
}

func TestDiscoveryService_RemoveListener(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	directory := &fakeDirectory{
		listFunc: func(ctx context.Context) (map[string]domain.ProtocolInfo, error) {
			return protocolMap(domain.ProtocolSIPVirtual, domain.ProtocolSIPNative), nil
		},
	}
	svc := NewDiscoveryService(log, directory)
	removed := &recordingListener{}
	kept := &recordingListener{}
	svc.AddListener(removed)
	svc.AddListener(kept)

	// When a listener unregisters before discovery completes
	svc.RemoveListener(removed)
	svc.RemoveListener(removed) // idempotent

	req.NoError(svc.AwaitProtocolsChecked(context.Background()))

	_, virtual := removed.counts()
	req.Zero(virtual)
	_, virtual = kept.counts()
	req.Equal(1, virtual)
}
