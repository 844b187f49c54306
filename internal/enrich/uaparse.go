package enrich

import (
	"github.com/mssola/useragent"

	"github.com/signalcove/pixelwatch/internal/record"
)

// UAParse runs step 2: deterministic browser/OS/device parsing. The
// mssola/useragent library exposes browser, OS, and platform but no
// device model/brand, so those two fields are derived from Platform()'s
// coarse hint; a desktop platform other than Macintosh gets neither field.
func UAParse(rec record.TrackingRecord) record.TrackingRecord {
	if rec.UserAgent == "" {
		return rec
	}
	ua := useragent.New(rec.UserAgent)

	browserName, browserVer := ua.Browser()
	rec = rec.AppendEnrichment(record.Srv("browser"), browserName)
	rec = rec.AppendEnrichment(record.Srv("browserVer"), browserVer)

	osInfo := ua.OSInfo()
	rec = rec.AppendEnrichment(record.Srv("os"), osInfo.Name)
	rec = rec.AppendEnrichment(record.Srv("osVer"), osInfo.Version)

	deviceType := "desktop"
	switch {
	case ua.Bot():
		deviceType = "bot"
	case ua.Mobile():
		deviceType = "mobile"
	}
	rec = rec.AppendEnrichment(record.Srv("deviceType"), deviceType)

	brand, model := platformToDevice(ua.Platform(), deviceType)
	if brand != "" {
		rec = rec.AppendEnrichment(record.Srv("deviceBrand"), brand)
	}
	if model != "" {
		rec = rec.AppendEnrichment(record.Srv("deviceModel"), model)
	}

	return rec
}

// platformToDevice maps the UA's reported platform token to a coarse
// brand/model pair. This is an approximation: the carrier has no true
// model string, only the platform token browsers still expose.
func platformToDevice(platform, deviceType string) (brand, model string) {
	switch platform {
	case "iPhone":
		return "Apple", "iPhone"
	case "iPad":
		return "Apple", "iPad"
	case "Macintosh":
		return "Apple", "Mac"
	case "Linux armv7l", "Linux armv8l", "Linux aarch64":
		return "Generic", "Android"
	default:
		if deviceType == "mobile" {
			return "Unknown", "Unknown"
		}
		return "", ""
	}
}
