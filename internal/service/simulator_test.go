package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"factory_device/internal/models"
	"factory_device/internal/property"
)

const epsilon = 1e-9

func newTestSimulator(store *property.Store, sender TelemetrySender, random float64, opts ...SimulatorOption) *SimulatorService {
	opts = append([]SimulatorOption{WithRandom(func() float64 { return random })}, opts...)
	return NewSimulatorService(store, sender, "dev-1", opts...)
}

func TestStep_RunningProducesUnitsAndHeat(t *testing.T) {
	store := property.New(nil)
	sim := newTestSimulator(store, &senderStub{}, 1)

	tick := sim.Step()

	// dt = 10s, 1 unit/s, 5 heat/unit, 20/60 cooldown per second
	wantTemp := AmbientC + 50 - 20.0/60*10
	if math.Abs(tick.Record.Temperature-wantTemp) > epsilon {
		t.Fatalf("temperature: got %.4f, want %.4f", tick.Record.Temperature, wantTemp)
	}
	if tick.Record.NewUnits != 10 {
		t.Fatalf("units: got %d, want 10", tick.Record.NewUnits)
	}
	if !tick.Emit || tick.Record.Overheated || tick.Transition != "" {
		t.Fatalf("unexpected tick: %+v", tick)
	}
	if tick.Record.DeviceID != "dev-1" {
		t.Fatalf("device id: got %q", tick.Record.DeviceID)
	}
	if sim.Temperature() != tick.Record.Temperature {
		t.Fatalf("Temperature() = %v, want %v", sim.Temperature(), tick.Record.Temperature)
	}
}

func TestStep_UnitsTruncated(t *testing.T) {
	store := property.New(nil)
	mustSet(t, store, property.UnitPerMinute, models.Float(50))
	mustSet(t, store, property.SendIntervalInMs, models.Int(1500))
	sim := newTestSimulator(store, &senderStub{}, 0)

	// 50/60 * 1.5 = 1.25
	if got := sim.Step().Record.NewUnits; got != 1 {
		t.Fatalf("units: got %d, want 1", got)
	}
}

func TestStep_SubSecondInterval(t *testing.T) {
	store := property.New(nil)
	mustSet(t, store, property.SendIntervalInMs, models.Int(500))
	sim := newTestSimulator(store, &senderStub{}, 1)

	tick := sim.Step()

	// dt = 0.5s: 0.5 units truncate to 0, heat 1*5*1*0.5, cooldown 20/60*0.5
	wantTemp := AmbientC + 2.5 - 20.0/60*0.5
	if math.Abs(tick.Record.Temperature-wantTemp) > epsilon {
		t.Fatalf("temperature: got %.4f, want %.4f", tick.Record.Temperature, wantTemp)
	}
	if tick.Record.NewUnits != 0 {
		t.Fatalf("units: got %d, want 0", tick.Record.NewUnits)
	}
}

func TestStep_UsesGivenInterval(t *testing.T) {
	store := property.New(nil)
	sim := newTestSimulator(store, &senderStub{}, 0)

	// the store still holds 10000 ms
	if got := sim.step(2000).Record.NewUnits; got != 2 {
		t.Fatalf("units: got %d, want 2", got)
	}
	if got := sim.step(-1000); got.Record.NewUnits != 0 || got.Record.Temperature != AmbientC {
		t.Fatalf("negative interval must not move the simulation: %+v", got)
	}
}

func TestStep_TemperatureNeverBelowAmbient(t *testing.T) {
	store := property.New(nil)
	mustSet(t, store, property.CooldownPerMinute, models.Float(6000))
	sim := newTestSimulator(store, &senderStub{}, 0)

	for i := 0; i < 3; i++ {
		if got := sim.Step().Record.Temperature; got != AmbientC {
			t.Fatalf("step %d: temperature %.2f below floor", i, got)
		}
	}

	mustSet(t, store, property.Overheated, models.Bool(true))
	sim.temperature = 25
	if got := sim.Step().Record.Temperature; got != AmbientC {
		t.Fatalf("overheated cooling: temperature %.2f, want %.2f", got, AmbientC)
	}
}

func TestStep_OverheatTransition(t *testing.T) {
	pushes := &pushRecorder{}
	store := property.New(pushes.push)
	mustSet(t, store, property.OverheatLimit, models.Float(50))
	mustSet(t, store, property.RestartCooldownTemp, models.Float(10))
	sim := newTestSimulator(store, &senderStub{}, 1)
	before := pushes.count()

	tick := sim.Step()

	if !tick.Record.Overheated || tick.Transition != models.EventOverheat {
		t.Fatalf("expected overheat transition, got %+v", tick)
	}
	if !store.Bool(property.Overheated) {
		t.Fatalf("store Overheated not set")
	}
	if pushes.count() != before+1 {
		t.Fatalf("expected one push for the flag change, got %d", pushes.count()-before)
	}

	// stays overheated without a second transition
	tick = sim.Step()
	if tick.Transition != "" || tick.Record.NewUnits != 0 {
		t.Fatalf("unexpected second tick: %+v", tick)
	}
}

func TestStep_CooldownFlipsOverheatedSameTick(t *testing.T) {
	store := property.New(nil)
	mustSet(t, store, property.Overheated, models.Bool(true))
	// 360/60 * 10s = 60 degrees of cooling
	mustSet(t, store, property.CooldownPerMinute, models.Float(360))
	sim := newTestSimulator(store, &senderStub{}, 1)
	sim.temperature = 150

	tick := sim.Step()

	if math.Abs(tick.Record.Temperature-90) > epsilon {
		t.Fatalf("temperature: got %.4f, want 90", tick.Record.Temperature)
	}
	if tick.Record.Overheated || store.Bool(property.Overheated) {
		t.Fatalf("expected Overheated=false after cooling below restart temp")
	}
	if tick.Record.NewUnits != 0 {
		t.Fatalf("no production while overheated, got %d units", tick.Record.NewUnits)
	}
	if tick.Transition != models.EventCooldown {
		t.Fatalf("expected cooldown transition, got %q", tick.Transition)
	}
}

func TestStep_StaysOverheatedAboveRestartTemp(t *testing.T) {
	store := property.New(nil)
	mustSet(t, store, property.Overheated, models.Bool(true))
	sim := newTestSimulator(store, &senderStub{}, 1)
	sim.temperature = 250

	tick := sim.Step()
	if !tick.Record.Overheated || tick.Transition != "" {
		t.Fatalf("expected to stay overheated, got %+v", tick)
	}
}

func TestStep_DeactivatedIsSilent(t *testing.T) {
	store := property.New(nil)
	mustSet(t, store, property.Activated, models.Bool(false))
	sim := newTestSimulator(store, &senderStub{}, 1)
	sim.temperature = 42

	tick := sim.Step()
	if tick.Emit {
		t.Fatalf("deactivated device must not emit")
	}
	if tick.Record.NewUnits != 0 || sim.Temperature() != 42 {
		t.Fatalf("deactivated device must not change: %+v", tick)
	}
}

func TestRun_DeactivatedSendsNothing(t *testing.T) {
	store := property.New(nil)
	mustSet(t, store, property.Activated, models.Bool(false))
	sender := &senderStub{}
	sl := &sleepRecorder{limit: 3}
	sim := newTestSimulator(store, sender, 1, WithSleep(sl.sleep))

	sim.Run(context.Background())

	if sender.sent() != 0 {
		t.Fatalf("expected no telemetry, got %d", sender.sent())
	}
	if len(sl.durations) != 3 {
		t.Fatalf("expected 3 iterations, got %d", len(sl.durations))
	}
}

func TestRun_DeactivatedStoreStaysWritable(t *testing.T) {
	pushes := &pushRecorder{}
	store := property.New(pushes.push)
	mustSet(t, store, property.Activated, models.Bool(false))
	sender := &senderStub{}
	sl := &sleepRecorder{limit: 4}
	sl.onSleep = func(n int) {
		switch n {
		case 1:
			mustSet(t, store, property.HeatPerUnit, models.Float(9))
		case 2:
			mustSet(t, store, property.Activated, models.Bool(true))
		}
	}
	sim := newTestSimulator(store, sender, 0, WithSleep(sl.sleep))
	before := pushes.count()

	sim.Run(context.Background())

	if store.Float(property.HeatPerUnit) != 9 {
		t.Fatalf("write while deactivated was lost")
	}
	if pushes.count() != before+2 {
		t.Fatalf("expected 2 pushes, got %d", pushes.count()-before)
	}
	// ticks 1 and 2 are silent, 3 and 4 send
	if sender.sent() != 2 {
		t.Fatalf("expected telemetry to resume after activation, got %d sends", sender.sent())
	}
}

func TestRun_RereadsIntervalEachIteration(t *testing.T) {
	store := property.New(nil)
	sender := &senderStub{}
	sl := &sleepRecorder{limit: 3}
	sl.onSleep = func(n int) {
		if n == 1 {
			mustSet(t, store, property.SendIntervalInMs, models.Int(2000))
		}
	}
	sim := newTestSimulator(store, sender, 0, WithSleep(sl.sleep))

	sim.Run(context.Background())

	want := []time.Duration{10 * time.Second, 2 * time.Second, 2 * time.Second}
	if len(sl.durations) != len(want) {
		t.Fatalf("durations: got %v", sl.durations)
	}
	for i := range want {
		if sl.durations[i] != want[i] {
			t.Fatalf("delay %d: got %v, want %v", i, sl.durations[i], want[i])
		}
	}
	if sender.sent() != 3 {
		t.Fatalf("expected 3 sends, got %d", sender.sent())
	}
}

func TestRun_ClampsTinyInterval(t *testing.T) {
	store := property.New(nil)
	mustSet(t, store, property.SendIntervalInMs, models.Int(0))
	sl := &sleepRecorder{limit: 1}
	sim := newTestSimulator(store, &senderStub{}, 0, WithSleep(sl.sleep))

	sim.Run(context.Background())

	if sl.durations[0] != minSleep {
		t.Fatalf("got %v, want %v", sl.durations[0], minSleep)
	}
}

func TestRun_SendFailureDoesNotStopLoop(t *testing.T) {
	store := property.New(nil)
	sender := &senderStub{err: errors.New("link down")}
	events := &recorderStub{}
	sink := &sinkStub{}
	sl := &sleepRecorder{limit: 2}
	sim := newTestSimulator(store, sender, 0, WithSleep(sl.sleep), WithEvents(events), WithSinks(sink))

	sim.Run(context.Background())

	if sender.sent() != 2 {
		t.Fatalf("expected 2 attempts, got %d", sender.sent())
	}
	if events.count(models.EventTelemetryFailed) != 2 {
		t.Fatalf("expected 2 TELEMETRY_FAILED events, got %d", events.count(models.EventTelemetryFailed))
	}
	if len(sink.records) != 0 {
		t.Fatalf("sinks must only see accepted telemetry")
	}
}

func TestRun_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sender := &senderStub{}
	sim := newTestSimulator(property.New(nil), sender, 0)

	done := make(chan struct{})
	go func() {
		sim.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if sender.sent() != 0 {
		t.Fatalf("expected no ticks, got %d", sender.sent())
	}
}

func TestHandleTick_PayloadSinksAndEvents(t *testing.T) {
	store := property.New(nil)
	sender := &senderStub{}
	events := &recorderStub{}
	sink := &sinkStub{}
	failing := &sinkStub{err: errors.New("influx down")}
	sim := newTestSimulator(store, sender, 0, WithEvents(events), WithSinks(failing, sink))

	sim.handleTick(context.Background(), Tick{
		Record:     models.TelemetryRecord{DeviceID: "dev-1", Temperature: 201.5, NewUnits: 0, Overheated: true},
		Emit:       true,
		Transition: models.EventOverheat,
	})

	if sender.sent() != 1 {
		t.Fatalf("expected 1 send, got %d", sender.sent())
	}
	var got map[string]any
	if err := json.Unmarshal(sender.payloads[0], &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	want := map[string]any{"deviceId": "dev-1", "temperature": 201.5, "newUnits": 0.0, "overheated": true}
	if len(got) != len(want) {
		t.Fatalf("payload keys: got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("payload[%s] = %v, want %v", k, got[k], v)
		}
	}

	if len(sink.records) != 1 || len(failing.records) != 1 {
		t.Fatalf("every sink must be written once")
	}
	if sink.records[0].RecordedAt.IsZero() {
		t.Fatalf("sink record missing timestamp")
	}
	if events.count(models.EventOverheat) != 1 {
		t.Fatalf("expected OVERHEAT event")
	}
}
