package enrich

import (
	"testing"
	"time"

	"github.com/signalcove/pixelwatch/internal/record"
)

func TestCrossCustomerTracker_SingleCompanyNoAlert(t *testing.T) {
	tr := NewCrossCustomerTracker()
	out := tr.CrossCustomer(record.TrackingRecord{CompanyID: "1"}, "1.1.1.1", "fp-a", time.Now())

	hits, _ := record.LookupParam(out.QueryString, record.Srv("crossCustHits"))
	if hits != "1" {
		t.Errorf("expected crossCustHits=1, got %q", hits)
	}
	if _, ok := record.LookupParam(out.QueryString, record.Srv("crossCustAlert")); ok {
		t.Error("did not expect alert for single company")
	}
}

func TestCrossCustomerTracker_ThreeCompaniesTripsAlert(t *testing.T) {
	tr := NewCrossCustomerTracker()
	now := time.Now()

	tr.CrossCustomer(record.TrackingRecord{CompanyID: "1"}, "1.1.1.1", "fp-a", now)
	tr.CrossCustomer(record.TrackingRecord{CompanyID: "2"}, "1.1.1.1", "fp-a", now.Add(time.Minute))
	out := tr.CrossCustomer(record.TrackingRecord{CompanyID: "3"}, "1.1.1.1", "fp-a", now.Add(2*time.Minute))

	alert, _ := record.LookupParam(out.QueryString, record.Srv("crossCustAlert"))
	if alert != "1" {
		t.Errorf("expected crossCustAlert=1, got %q", alert)
	}
}

func TestCrossCustomerTracker_DifferentFingerprintsAreIndependent(t *testing.T) {
	tr := NewCrossCustomerTracker()
	now := time.Now()

	tr.CrossCustomer(record.TrackingRecord{CompanyID: "1"}, "1.1.1.1", "fp-a", now)
	out := tr.CrossCustomer(record.TrackingRecord{CompanyID: "2"}, "1.1.1.1", "fp-b", now)

	hits, _ := record.LookupParam(out.QueryString, record.Srv("crossCustHits"))
	if hits != "1" {
		t.Errorf("expected crossCustHits=1 for distinct fingerprint, got %q", hits)
	}
}

func TestCrossCustomerTracker_OutsideWindowResets(t *testing.T) {
	tr := NewCrossCustomerTracker()
	now := time.Now()

	tr.CrossCustomer(record.TrackingRecord{CompanyID: "1"}, "1.1.1.1", "fp-a", now)
	out := tr.CrossCustomer(record.TrackingRecord{CompanyID: "2"}, "1.1.1.1", "fp-a", now.Add(CrossCustomerWindow+time.Minute))

	hits, _ := record.LookupParam(out.QueryString, record.Srv("crossCustHits"))
	if hits != "1" {
		t.Errorf("expected crossCustHits=1 after window expiry, got %q", hits)
	}
}

func TestCrossCustomerTracker_MissingInputsIsNoop(t *testing.T) {
	tr := NewCrossCustomerTracker()
	out := tr.CrossCustomer(record.TrackingRecord{}, "", "fp-a", time.Now())
	if out.QueryString != "" {
		t.Errorf("expected no enrichment when CompanyID/ip missing, got %q", out.QueryString)
	}
}
