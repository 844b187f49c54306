package enrich

import (
	"strconv"
	"strings"

	"github.com/signalcove/pixelwatch/internal/record"
)

// gpuVintageYear is a coarse release-year estimate per GPU generation
// substring, used to triangulate device age (§4.3.1 row 12).
var gpuVintageYear = []struct {
	substr string
	year   int
}{
	{"rtx 40", 2022}, {"rtx 30", 2020}, {"rtx 20", 2018},
	{"gtx 16", 2019}, {"gtx 10", 2016},
	{"apple m3", 2023}, {"apple m2", 2022}, {"apple m1", 2020},
	{"radeon rx 7", 2022}, {"radeon rx 6", 2020}, {"radeon rx 5", 2019},
	{"iris xe", 2020}, {"uhd graphics", 2017},
}

// osVintageYear is a coarse release-year estimate per OS major version
// string fragment.
var osVintageYear = map[string]int{
	"windows 11": 2021, "windows 10": 2015,
	"mac os x 14": 2023, "mac os x 13": 2022, "mac os x 12": 2021,
	"android 14": 2023, "android 13": 2022, "android 12": 2021,
	"ios 17": 2023, "ios 16": 2022, "ios 15": 2021,
}

// DeviceAge runs step 12: triangulate an estimated device purchase year
// from GPU and OS vintage signals, flagging an anomaly when the signals
// disagree by more than 3 years. The browser version is not used.
func DeviceAge(rec record.TrackingRecord) record.TrackingRecord {
	gpu, _ := record.LookupParam(rec.QueryString, "gpuRenderer")
	osName, _ := record.LookupParam(rec.QueryString, record.Srv("os"))
	osVer, _ := record.LookupParam(rec.QueryString, record.Srv("osVer"))

	var years []int
	if y, ok := matchVintage(strings.ToLower(gpu)); ok {
		years = append(years, y)
	}
	if y, ok := osVintageYear[strings.ToLower(osName+" "+osVer)]; ok {
		years = append(years, y)
	}

	if len(years) == 0 {
		return rec
	}

	minYear, maxYear := years[0], years[0]
	sum := 0
	for _, y := range years {
		sum += y
		if y < minYear {
			minYear = y
		}
		if y > maxYear {
			maxYear = y
		}
	}
	avg := sum / len(years)

	rec = rec.AppendEnrichment(record.Srv("deviceAge"), strconv.Itoa(avg))
	if maxYear-minYear > 3 {
		rec = rec.AppendEnrichment(record.Srv("deviceAgeAnomaly"), "1")
	}
	return rec
}

func matchVintage(gpu string) (int, bool) {
	for _, e := range gpuVintageYear {
		if strings.Contains(gpu, e.substr) {
			return e.year, true
		}
	}
	return 0, false
}
