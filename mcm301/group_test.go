package mcm301

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/amsikking/thorlabs-MCM301/lib"
)

func TestGroup_MoveTo(t *testing.T) {
	ctrl, mock := openTest(t)
	mock.Reset()
	ctx := context.Background()

	targets := PositionMap{0: 3 * physic.MilliMetre, 1: 7 * physic.MilliMetre}
	got, err := ctrl.Group().MoveTo(ctx, targets)
	if err != nil {
		t.Fatalf("MoveTo failed: %v", err)
	}
	for idx, want := range targets {
		if got[idx] != want {
			t.Errorf("channel %d: got %v, want %v", idx, got[idx], want)
		}
	}
	if n := mock.Called("MoveAbsolute"); n != 2 {
		t.Errorf("MoveAbsolute calls: got %d, want 2", n)
	}
}

func TestGroup_MoveToPartial(t *testing.T) {
	ctrl, _ := openTest(t)
	ctx := context.Background()

	got, err := ctrl.Group().MoveTo(ctx, PositionMap{1: 2 * physic.MilliMetre})
	if err != nil {
		t.Fatalf("MoveTo failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("positions: got %v, want only channel 1", got)
	}
	ch0, _ := ctrl.Channel(0)
	if pos, _ := ch0.Position(ctx); pos != 0 {
		t.Errorf("channel 0 moved to %v", pos)
	}
}

func TestGroup_StartMoveAllChecksEveryTarget(t *testing.T) {
	ctrl, mock := openTest(t)
	mock.Reset()

	err := ctrl.Group().StartMoveAll(context.Background(), PositionMap{
		0: 3 * physic.MilliMetre,
		1: 20 * physic.MilliMetre,
	})
	if !IsOutOfLimits(err) {
		t.Fatalf("got %v, want ErrOutOfLimits", err)
	}
	chErr, ok := GetChannelError(err)
	if !ok || chErr.Channel != 1 {
		t.Errorf("channel error: got %+v", chErr)
	}
	if n := mock.Called("MoveAbsolute"); n != 0 {
		t.Errorf("MoveAbsolute calls: got %d, want 0", n)
	}
}

func TestGroup_StartMoveAllChecksEnabled(t *testing.T) {
	ctrl, mock := openTest(t)
	ctx := context.Background()
	ch1, _ := ctrl.Channel(1)
	if err := ch1.Disable(ctx); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	mock.Reset()

	err := ctrl.Group().StartMoveAll(ctx, PositionMap{
		0: 2 * physic.MilliMetre,
		1: 2 * physic.MilliMetre,
	})
	if !IsNotEnabled(err) {
		t.Fatalf("got %v, want ErrNotEnabled", err)
	}
	chErr, ok := GetChannelError(err)
	if !ok || chErr.Channel != 1 {
		t.Errorf("channel error: got %+v", chErr)
	}
	if n := mock.Called("MoveAbsolute"); n != 0 {
		t.Errorf("MoveAbsolute calls: got %d, want 0", n)
	}
	if n := mock.Called("MoveStop"); n != 0 {
		t.Errorf("MoveStop calls: got %d, want 0", n)
	}
}

func TestGroup_StartMoveAllUnknownChannel(t *testing.T) {
	ctrl, _ := openTest(t)

	err := ctrl.Group().StartMoveAll(context.Background(), PositionMap{2: physic.MilliMetre})
	if err == nil || !strings.Contains(err.Error(), "not in group") {
		t.Errorf("got %v, want not in group error", err)
	}
	if err := ctrl.Group().StartMoveAll(context.Background(), nil); err != nil {
		t.Errorf("empty move: got %v", err)
	}
}

func TestGroup_MoveFailureStopsAll(t *testing.T) {
	ctrl, mock := openTest(t)
	mock.Reset()
	want := errors.New("bus error")
	mock.Errs["MoveAbsolute"] = want

	err := ctrl.Group().StartMoveAll(context.Background(), PositionMap{0: physic.MilliMetre, 1: physic.MilliMetre})
	if !errors.Is(err, want) {
		t.Fatalf("got %v, want %v", err, want)
	}
	if n := mock.Called("MoveStop"); n != 2 {
		t.Errorf("MoveStop calls: got %d, want 2", n)
	}
}

func TestGroup_HomeAll(t *testing.T) {
	ctrl, mock := openTest(t)
	ctx := context.Background()

	if _, err := ctrl.Group().MoveTo(ctx, PositionMap{0: 5 * physic.MilliMetre, 1: 6 * physic.MilliMetre}); err != nil {
		t.Fatalf("MoveTo failed: %v", err)
	}
	mock.Reset()

	if err := ctrl.HomeAll(ctx); err != nil {
		t.Fatalf("HomeAll failed: %v", err)
	}
	if n := mock.Called("Home"); n != 2 {
		t.Errorf("Home calls: got %d, want 2", n)
	}
	positions, err := ctrl.Group().Positions(ctx)
	if err != nil {
		t.Fatalf("Positions failed: %v", err)
	}
	for idx, pos := range positions {
		if pos != 0 {
			t.Errorf("channel %d: got %v, want 0", idx, pos)
		}
	}
}

func TestGroup_EnableDisable(t *testing.T) {
	ctrl, mock := openTest(t)
	ctx := context.Background()
	g := ctrl.Group()

	if err := g.DisableAll(ctx); err != nil {
		t.Fatalf("DisableAll failed: %v", err)
	}
	for _, ch := range g.Channels() {
		if ch.Enabled() {
			t.Errorf("channel %d still enabled", ch.Index())
		}
	}

	mock.Errs["SetChanEnableState"] = errors.New("refused")
	err := g.EnableAll(ctx)
	if err == nil {
		t.Fatal("expected error")
	}
	// both channels are tried and both failures reported
	if !strings.Contains(err.Error(), "channel 0") || !strings.Contains(err.Error(), "channel 1") {
		t.Errorf("error does not name both channels: %v", err)
	}

	delete(mock.Errs, "SetChanEnableState")
	if err := g.EnableAll(ctx); err != nil {
		t.Fatalf("EnableAll failed: %v", err)
	}
}

func TestGroup_StopAll(t *testing.T) {
	mock := lib.NewMock(newTestSim(lib.DefaultSimStage("MPM-283298"), lib.DefaultSimStage("MPM-283299")))
	cfg := testConfig(t, mock, testChannels(2))
	cfg.SkipHoming = true
	ctrl, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ctrl.Close()
	ctx := context.Background()

	if err := ctrl.Group().StartMoveAll(ctx, PositionMap{0: 11 * physic.MilliMetre, 1: physic.MilliMetre}); err != nil {
		t.Fatalf("StartMoveAll failed: %v", err)
	}
	if err := ctrl.StopAll(ctx); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	if err := ctrl.WaitAll(ctx); err != nil {
		t.Fatalf("WaitAll failed: %v", err)
	}
	for _, ch := range ctrl.Channels() {
		if ch.Moving() {
			t.Errorf("channel %d still moving", ch.Index())
		}
	}
}

func TestGroup_WaitForStop(t *testing.T) {
	ctrl, _ := openTest(t)
	ctx := context.Background()
	g := ctrl.Group()

	if err := g.StartMoveAll(ctx, PositionMap{0: 4 * physic.MilliMetre}); err != nil {
		t.Fatalf("StartMoveAll failed: %v", err)
	}
	positions, err := g.WaitForStop(ctx, time.Second)
	if err != nil {
		t.Fatalf("WaitForStop failed: %v", err)
	}
	if positions[0] != 4*physic.MilliMetre || positions[1] != 0 {
		t.Errorf("positions: got %v", positions)
	}
}

func TestGroup_WaitForStopTimeout(t *testing.T) {
	mock := lib.NewMock(newTestSim(lib.DefaultSimStage("MPM-283298")))
	cfg := testConfig(t, mock, testChannels(1))
	cfg.SkipHoming = true
	ctrl, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ctrl.Close()
	ctx := context.Background()
	g := ctrl.Group()

	if err := g.StartMoveAll(ctx, PositionMap{0: 11 * physic.MilliMetre}); err != nil {
		t.Fatalf("StartMoveAll failed: %v", err)
	}
	positions, err := g.WaitForStop(ctx, 10*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "move timeout") {
		t.Fatalf("got %v, want move timeout", err)
	}
	if _, ok := positions[0]; !ok {
		t.Error("expected a partial position for channel 0")
	}
	g.StopAll(ctx)
}

func TestGroup_Channel(t *testing.T) {
	ctrl, _ := openTest(t)
	g := ctrl.Group()

	if ch := g.Channel(1); ch == nil || ch.Index() != 1 {
		t.Errorf("Channel(1): got %v", ch)
	}
	if ch := g.Channel(2); ch != nil {
		t.Errorf("Channel(2): got %v, want nil", ch)
	}
	if n := len(NewGroup().Channels()); n != 0 {
		t.Errorf("empty group: got %d channels", n)
	}
	if err := NewGroup().HomeAll(context.Background()); err != nil {
		t.Errorf("empty HomeAll: got %v", err)
	}
}
