package etl

import "testing"

func float64p(f float64) *float64 { return &f }
func int64p(i int64) *int64       { return &i }
func boolp(b bool) *bool          { return &b }
func strp(s string) *string       { return &s }

func TestMouseAuthenticity_HighEntropyNoReplayNoScroll(t *testing.T) {
	score := mouseAuthenticity(float64p(80), float64p(0.6), float64p(0.6), int64p(150), boolp(false), nil)
	if score != 100 {
		t.Fatalf("expected max score 100, got %d", score)
	}
}

func TestMouseAuthenticity_NilFieldsStillScoresFloor(t *testing.T) {
	score := mouseAuthenticity(nil, nil, nil, nil, nil, nil)
	// default buckets (5 entropy + 0 timing + 0 speed + 5 move) + replay bonus 10 + scroll bonus 10
	if score != 20 {
		t.Fatalf("expected floor score 20, got %d", score)
	}
}

func TestMouseAuthenticity_ReplayDetectedDropsBonus(t *testing.T) {
	withReplay := mouseAuthenticity(float64p(80), float64p(0.6), float64p(0.6), int64p(150), boolp(true), nil)
	withoutReplay := mouseAuthenticity(float64p(80), float64p(0.6), float64p(0.6), int64p(150), boolp(false), nil)
	if withReplay != withoutReplay-10 {
		t.Fatalf("expected replay detection to cost 10 points, got %d vs %d", withReplay, withoutReplay)
	}
}

func TestMouseAuthenticity_ScrollContradictionDropsBonus(t *testing.T) {
	withScroll := mouseAuthenticity(float64p(80), float64p(0.6), float64p(0.6), int64p(150), boolp(false), strp("scroll-no-depth"))
	withoutScroll := mouseAuthenticity(float64p(80), float64p(0.6), float64p(0.6), int64p(150), boolp(false), nil)
	if withScroll != withoutScroll-10 {
		t.Fatalf("expected scroll contradiction to cost 10 points, got %d vs %d", withScroll, withoutScroll)
	}
}

func TestSessionQuality_HighPagesLongDuration(t *testing.T) {
	score := sessionQuality(int64p(10), int64p(300))
	if score != 100 {
		t.Fatalf("expected max session quality 100, got %d", score)
	}
}

func TestSessionQuality_NilFields(t *testing.T) {
	if got := sessionQuality(nil, nil); got != 0 {
		t.Fatalf("expected 0 for nil fields, got %d", got)
	}
}

func TestCompositeQuality_BotScorePenalizes(t *testing.T) {
	clean := compositeQuality(80, 80, int64p(50), int64p(0), int64p(0))
	botted := compositeQuality(80, 80, int64p(50), int64p(100), int64p(0))
	if botted >= clean {
		t.Fatalf("expected bot score to lower composite quality, clean=%d botted=%d", clean, botted)
	}
}

func TestCompositeQuality_ClampedToZero(t *testing.T) {
	score := compositeQuality(0, 0, int64p(0), int64p(100), int64p(50))
	if score != 0 {
		t.Fatalf("expected clamp to 0, got %d", score)
	}
}

func TestPeriodEndFor_Daily(t *testing.T) {
	start := dayStart(mustParseRFC3339(t, "2026-07-30T00:00:00Z"))
	end := periodEndFor("D", start)
	if end.Sub(start).Hours() != 24 {
		t.Fatalf("expected 24h period, got %v", end.Sub(start))
	}
}

func TestWeekStart_AlignsToMonday(t *testing.T) {
	ws := weekStart(mustParseRFC3339(t, "2026-07-30T12:00:00Z")) // Thursday
	if ws.Weekday().String() != "Monday" {
		t.Fatalf("expected Monday, got %s", ws.Weekday())
	}
}
