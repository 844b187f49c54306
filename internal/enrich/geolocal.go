package enrich

import (
	"fmt"
	"net"
	"strconv"

	"github.com/oschwald/geoip2-golang"

	"github.com/signalcove/pixelwatch/internal/record"
)

// GeoDB wraps the two preloaded MaxMind databases (city + ASN) step 4
// binary-searches in memory.
type GeoDB struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

// OpenGeoDB memory-maps the city and ASN database files. Either path may
// be empty to run without that lookup (useful in tests and in
// environments lacking a MaxMind license).
func OpenGeoDB(cityPath, asnPath string) (*GeoDB, error) {
	db := &GeoDB{}
	var err error
	if cityPath != "" {
		db.city, err = geoip2.Open(cityPath)
		if err != nil {
			return nil, fmt.Errorf("enrich: opening city db %s: %w", cityPath, err)
		}
	}
	if asnPath != "" {
		db.asn, err = geoip2.Open(asnPath)
		if err != nil {
			return nil, fmt.Errorf("enrich: opening asn db %s: %w", asnPath, err)
		}
	}
	return db, nil
}

// Close releases both underlying mmap handles.
func (db *GeoDB) Close() {
	if db.city != nil {
		db.city.Close()
	}
	if db.asn != nil {
		db.asn.Close()
	}
}

// GeoLocal runs step 4: offline geo lookup via the preloaded MaxMind
// databases. A missing database or an unparseable/private IP yields no
// fields, matching the per-step error policy.
func (db *GeoDB) GeoLocal(rec record.TrackingRecord) record.TrackingRecord {
	if db == nil || rec.IPAddress == "" {
		return rec
	}
	ip := net.ParseIP(rec.IPAddress)
	if ip == nil {
		return rec
	}

	if db.city != nil {
		if city, err := db.city.City(ip); err == nil {
			if cc := city.Country.IsoCode; cc != "" {
				rec = rec.AppendEnrichment(record.Srv("mmCC"), cc)
			}
			if len(city.Subdivisions) > 0 {
				rec = rec.AppendEnrichment(record.Srv("mmReg"), city.Subdivisions[0].IsoCode)
			}
			if name := city.City.Names["en"]; name != "" {
				rec = rec.AppendEnrichment(record.Srv("mmCity"), name)
			}
			if city.Location.Latitude != 0 || city.Location.Longitude != 0 {
				rec = rec.AppendEnrichment(record.Srv("mmLat"), strconv.FormatFloat(city.Location.Latitude, 'f', 4, 64))
				rec = rec.AppendEnrichment(record.Srv("mmLon"), strconv.FormatFloat(city.Location.Longitude, 'f', 4, 64))
			}
		}
	}

	if db.asn != nil {
		if asn, err := db.asn.ASN(ip); err == nil && asn.AutonomousSystemNumber != 0 {
			rec = rec.AppendEnrichment(record.Srv("mmASN"), strconv.FormatUint(uint64(asn.AutonomousSystemNumber), 10))
			if asn.AutonomousSystemOrganization != "" {
				rec = rec.AppendEnrichment(record.Srv("mmASNOrg"), asn.AutonomousSystemOrganization)
			}
		}
	}

	return rec
}

// HasASN reports whether mmASN was set by GeoLocal, gating step 6 (WHOIS
// ASN fallback, §4.3.1 row 6: "only when step 4 yielded no ASN").
func HasASN(rec record.TrackingRecord) bool {
	_, ok := record.LookupParam(rec.QueryString, record.Srv("mmASN"))
	return ok
}
