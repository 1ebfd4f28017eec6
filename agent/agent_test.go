package agent

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metamakers.org/gate-agent/clock"
	"metamakers.org/gate-agent/mqtt"
	"metamakers.org/gate-agent/sdnotify"
)

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeStep struct {
	name    string
	journal *journal
	err     error
}

func (step *fakeStep) Connect(context.Context) error {
	step.journal.add(step.name)
	return step.err
}

func (step *fakeStep) Sync(context.Context) error {
	step.journal.add(step.name)
	return step.err
}

type fakeSession struct {
	mu           sync.Mutex
	messages     []mqtt.Message
	err          error
	disconnected bool
}

func (session *fakeSession) Poll() (mqtt.Message, bool, error) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if len(session.messages) > 0 {
		message := session.messages[0]
		session.messages = session.messages[1:]
		return message, true, nil
	}
	if session.err != nil {
		return mqtt.Message{}, false, session.err
	}
	return mqtt.Message{}, false, nil
}

func (session *fakeSession) Disconnect(context.Context) error {
	session.mu.Lock()
	defer session.mu.Unlock()
	session.disconnected = true
	return nil
}

type fakeDispatcher struct {
	journal *journal
	err     error
}

func (dispatcher *fakeDispatcher) Dispatch(_ context.Context, topic string, payload []byte) error {
	dispatcher.journal.add(topic + " " + string(payload))
	return dispatcher.err
}

type fakeLED struct {
	values []int
}

func (led *fakeLED) SetValue(value int) error {
	led.values = append(led.values, value)
	return nil
}

type fakeLifecycle struct {
	readyErr error
	ready    int
	stopping int
}

func (lifecycle *fakeLifecycle) Ready() error {
	lifecycle.ready++
	return lifecycle.readyErr
}

func (lifecycle *fakeLifecycle) Stopping() error {
	lifecycle.stopping++
	return nil
}

type fakeWatchdog struct {
	pets int
}

func (watchdog *fakeWatchdog) Pet() error {
	watchdog.pets++
	return nil
}

type fakeResetter struct {
	causes []error
}

func (resetter *fakeResetter) Reset(cause error) error {
	resetter.causes = append(resetter.causes, cause)
	return nil
}

func newTestLoop(dispatcher Dispatcher, led *fakeLED, lifecycle Lifecycle, watchdog Watchdog) *Loop {
	loop := NewLoop(dispatcher, led, 0, lifecycle, watchdog, zerolog.Nop())
	loop.sleep = func(time.Duration) {}
	return loop
}

func TestBootstrapRunsStepsInOrder(t *testing.T) {
	steps := &journal{}
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	session := &fakeSession{}
	var gotClientID string
	dial := func(_ context.Context, clientID string) (Session, error) {
		steps.add("mqtt")
		gotClientID = clientID
		return session, nil
	}

	bootstrapper := NewBootstrapper(
		&fakeStep{name: "wifi", journal: steps},
		&fakeStep{name: "ntp", journal: steps},
		dial,
		clock.NewFixed(start),
		"gate-agent-",
		zerolog.Nop(),
	)

	got, err := bootstrapper.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Same(t, session, got)
	assert.Equal(t, []string{"wifi", "ntp", "mqtt"}, steps.list())
	assert.Equal(t, "gate-agent-"+strconv.FormatInt(start.UnixMilli(), 10), gotClientID)
}

func TestBootstrapStopsAtFirstFailure(t *testing.T) {
	steps := &journal{}
	dial := func(context.Context, string) (Session, error) {
		steps.add("mqtt")
		return &fakeSession{}, nil
	}
	bootstrapper := NewBootstrapper(
		&fakeStep{name: "wifi", journal: steps},
		&fakeStep{name: "ntp", journal: steps, err: errors.New("no reply")},
		dial,
		clock.New(),
		"gate-agent-",
		zerolog.Nop(),
	)

	session, err := bootstrapper.Bootstrap(context.Background())
	require.Error(t, err)
	assert.Nil(t, session)
	assert.Contains(t, err.Error(), "time sync")
	assert.Equal(t, []string{"wifi", "ntp"}, steps.list())
}

func TestBootstrapReportsDialFailure(t *testing.T) {
	steps := &journal{}
	refused := errors.New("connection refused")
	dial := func(context.Context, string) (Session, error) {
		return nil, refused
	}
	bootstrapper := NewBootstrapper(
		&fakeStep{name: "wifi", journal: steps},
		&fakeStep{name: "ntp", journal: steps},
		dial,
		clock.New(),
		"gate-agent-",
		zerolog.Nop(),
	)

	_, err := bootstrapper.Bootstrap(context.Background())
	assert.ErrorIs(t, err, refused)
}

func TestClientID(t *testing.T) {
	assert.Equal(t, "gate-agent-1717243200000", ClientID("gate-agent-", 1717243200000))
}

func TestLoopDispatchesMessagesInArrivalOrder(t *testing.T) {
	lost := errors.New("lost")
	dispatched := &journal{}
	session := &fakeSession{
		messages: []mqtt.Message{
			{Topic: "siyangz/home/gate", Payload: []byte("first")},
			{Topic: "siyangz/home/gate", Payload: []byte("second")},
		},
		err: lost,
	}
	led := &fakeLED{}
	lifecycle := &fakeLifecycle{readyErr: sdnotify.ErrNotifySocketNotFound}
	watchdog := &fakeWatchdog{}

	loop := newTestLoop(&fakeDispatcher{journal: dispatched}, led, lifecycle, watchdog)
	err := loop.Run(context.Background(), session)

	assert.ErrorIs(t, err, lost)
	assert.Equal(t, []string{"siyangz/home/gate first", "siyangz/home/gate second"}, dispatched.list())
	assert.Equal(t, []int{1, 0, 1, 0}, led.values)
	assert.Equal(t, 1, lifecycle.ready)
	assert.Equal(t, 2, watchdog.pets)
}

func TestLoopStopsOnDispatchError(t *testing.T) {
	malformed := errors.New("malformed")
	dispatched := &journal{}
	session := &fakeSession{
		messages: []mqtt.Message{
			{Topic: "siyangz/home/gate", Payload: []byte("not json")},
			{Topic: "siyangz/home/gate", Payload: []byte("never seen")},
		},
	}

	loop := newTestLoop(&fakeDispatcher{journal: dispatched, err: malformed}, &fakeLED{}, &fakeLifecycle{}, &fakeWatchdog{})
	err := loop.Run(context.Background(), session)

	assert.ErrorIs(t, err, malformed)
	assert.Equal(t, []string{"siyangz/home/gate not json"}, dispatched.list())
}

func TestLoopReturnsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := newTestLoop(&fakeDispatcher{journal: &journal{}}, &fakeLED{}, &fakeLifecycle{}, &fakeWatchdog{})
	err := loop.Run(ctx, &fakeSession{})

	assert.ErrorIs(t, err, context.Canceled)
}

type fakeBootstrap struct {
	session Session
	err     error
	panic   string
}

func (bootstrap *fakeBootstrap) Bootstrap(context.Context) (Session, error) {
	if bootstrap.panic != "" {
		panic(bootstrap.panic)
	}
	return bootstrap.session, bootstrap.err
}

type runnerFunc func(ctx context.Context, session Session) error

func (fn runnerFunc) Run(ctx context.Context, session Session) error {
	return fn(ctx, session)
}

func TestSupervisorResetsOnFailure(t *testing.T) {
	lost := errors.New("connection lost")
	session := &fakeSession{}
	resetter := &fakeResetter{}
	loop := runnerFunc(func(context.Context, Session) error { return lost })

	supervisor := NewSupervisor(&fakeBootstrap{session: session}, loop, &fakeLifecycle{}, 0, resetter, zerolog.Nop())
	err := supervisor.Run(context.Background())

	assert.ErrorIs(t, err, lost)
	require.Len(t, resetter.causes, 1)
	assert.ErrorIs(t, resetter.causes[0], lost)
	assert.True(t, session.disconnected)
}

func TestSupervisorResetsOnBootstrapFailure(t *testing.T) {
	resetter := &fakeResetter{}
	loop := runnerFunc(func(context.Context, Session) error {
		t.Fatal("loop must not run without a session")
		return nil
	})

	supervisor := NewSupervisor(&fakeBootstrap{err: errors.New("wifi: down")}, loop, &fakeLifecycle{}, 0, resetter, zerolog.Nop())
	require.Error(t, supervisor.Run(context.Background()))
	assert.Len(t, resetter.causes, 1)
}

func TestSupervisorRecoversPanics(t *testing.T) {
	resetter := &fakeResetter{}
	supervisor := NewSupervisor(&fakeBootstrap{panic: "boom"}, runnerFunc(nil), &fakeLifecycle{}, 0, resetter, zerolog.Nop())

	err := supervisor.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, resetter.causes, 1)
}

func TestSupervisorStopsCleanlyDuringStartDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resetter := &fakeResetter{}
	bootstrap := &fakeBootstrap{panic: "must not bootstrap"}

	supervisor := NewSupervisor(bootstrap, runnerFunc(nil), &fakeLifecycle{}, time.Hour, resetter, zerolog.Nop())

	assert.NoError(t, supervisor.Run(ctx))
	assert.Empty(t, resetter.causes)
}

func TestSupervisorStopsCleanlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	session := &fakeSession{}
	lifecycle := &fakeLifecycle{}
	resetter := &fakeResetter{}
	loop := runnerFunc(func(ctx context.Context, _ Session) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})

	supervisor := NewSupervisor(&fakeBootstrap{session: session}, loop, lifecycle, 0, resetter, zerolog.Nop())

	assert.NoError(t, supervisor.Run(ctx))
	assert.Empty(t, resetter.causes)
	assert.Equal(t, 1, lifecycle.stopping)
	assert.True(t, session.disconnected)
}

func TestExitResetterUsesConfiguredCode(t *testing.T) {
	var code int
	resetter := &ExitResetter{Code: 4, exit: func(c int) { code = c }}

	require.NoError(t, resetter.Reset(errors.New("boom")))
	assert.Equal(t, 4, code)
}

func TestFallbackResetterExitsWhenPrimaryFails(t *testing.T) {
	var code int
	resetter := &fallbackResetter{
		primary:  &RebootResetter{reboot: func() error { return errors.New("operation not permitted") }},
		fallback: &ExitResetter{Code: 4, exit: func(c int) { code = c }},
		log:      zerolog.Nop(),
	}

	require.NoError(t, resetter.Reset(errors.New("boom")))
	assert.Equal(t, 4, code)
}

func TestNewResetterDefaultsToExit(t *testing.T) {
	resetter := NewResetter("exit", 4, zerolog.Nop())
	exit, ok := resetter.(*ExitResetter)
	require.True(t, ok)
	assert.Equal(t, 4, exit.Code)

	_, ok = NewResetter("exec", 4, zerolog.Nop()).(*fallbackResetter)
	assert.True(t, ok)
}
