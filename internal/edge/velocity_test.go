package edge

import (
	"testing"
	"time"
)

func TestVelocityTracker_RapidFire(t *testing.T) {
	vt := NewVelocityTracker()
	now := time.Now()

	vt.Observe("1.1.1.1", now)
	flags := vt.Observe("1.1.1.1", now.Add(2*time.Second))

	if !flags.RapidFire {
		t.Error("expected RapidFire to trip on second hit within window")
	}
}

func TestVelocityTracker_NoRapidFireOutsideWindow(t *testing.T) {
	vt := NewVelocityTracker()
	now := time.Now()

	vt.Observe("1.1.1.1", now)
	flags := vt.Observe("1.1.1.1", now.Add(RapidFireWindow+time.Second))

	if flags.RapidFire {
		t.Error("expected RapidFire to not trip once prior hit aged out")
	}
}

func TestVelocityTracker_SubSecondDupe(t *testing.T) {
	vt := NewVelocityTracker()
	now := time.Now()

	vt.Observe("1.1.1.1", now)
	flags := vt.Observe("1.1.1.1", now.Add(100*time.Millisecond))

	if !flags.SubSecondDupe {
		t.Error("expected SubSecondDupe to trip on sub-second repeat")
	}
}

func TestVelocityTracker_SubnetBurst(t *testing.T) {
	vt := NewVelocityTracker()
	now := time.Now()

	vt.Observe("10.0.0.1", now)
	vt.Observe("10.0.0.2", now.Add(time.Second))
	flags := vt.Observe("10.0.0.3", now.Add(2*time.Second))

	if !flags.SubnetBurst {
		t.Error("expected SubnetBurst to trip at 3 distinct IPs in subnet window")
	}
}

func TestVelocityTracker_NoSubnetBurstAcrossDifferentSubnets(t *testing.T) {
	vt := NewVelocityTracker()
	now := time.Now()

	vt.Observe("10.0.0.1", now)
	vt.Observe("10.0.1.1", now.Add(time.Second))
	flags := vt.Observe("10.0.2.1", now.Add(2*time.Second))

	if flags.SubnetBurst {
		t.Error("expected no SubnetBurst when IPs are in different /24s")
	}
}

func TestVelocityTracker_InvalidIPReturnsNoFlags(t *testing.T) {
	vt := NewVelocityTracker()
	flags := vt.Observe("not-an-ip", time.Now())
	if flags.RapidFire || flags.SubSecondDupe || flags.SubnetBurst {
		t.Errorf("expected zero flags for invalid IP, got %+v", flags)
	}
}
