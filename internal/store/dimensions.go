package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// UpsertDevice inserts a new Device row or advances LastSeen/HitCount on an
// existing one (§3.4 "create-once, update-many"). Called within the ETL's
// ParseNewHits transaction (phase 10), one call per parsed row.
func UpsertDevice(ctx context.Context, tx pgx.Tx, deviceHash string, seenAt time.Time, affluence, gpuTier string, deviceAge *int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO devices (device_hash, first_seen, last_seen, hit_count, affluence, gpu_tier, device_age)
		VALUES ($1, $2, $2, 1, $3, $4, $5)
		ON CONFLICT (device_hash) DO UPDATE SET
			last_seen = GREATEST(devices.last_seen, EXCLUDED.last_seen),
			hit_count = devices.hit_count + 1,
			affluence = COALESCE(EXCLUDED.affluence, devices.affluence),
			gpu_tier = COALESCE(EXCLUDED.gpu_tier, devices.gpu_tier),
			device_age = COALESCE(EXCLUDED.device_age, devices.device_age)`,
		deviceHash, seenAt, nilIfEmptyStr(affluence), nilIfEmptyStr(gpuTier), deviceAge)
	return err
}

// IPGeo carries the denormalized geo columns the ETL's Parse phase resolves
// from the carrier's mmCC/ipapiCC/whoisASN enrichments (§3.4).
type IPGeo struct {
	IPType     string
	Datacenter bool
	Country    string
	Region     string
	City       string
	Latitude   *float64
	Longitude  *float64
	ASN        *int64
	ASNOrg     string
	RDNS       string
	RDNSCloud  bool
}

// UpsertIP inserts a new IP row or refreshes its denormalized geo columns
// and LastSeen/HitCount (§3.4, phase 11).
func UpsertIP(ctx context.Context, tx pgx.Tx, ip string, seenAt time.Time, geo IPGeo) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ips (ip_address, first_seen, last_seen, hit_count, ip_type, datacenter,
			country, region, city, latitude, longitude, asn, asn_org, rdns, rdns_cloud)
		VALUES ($1, $2, $2, 1, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (ip_address) DO UPDATE SET
			last_seen = GREATEST(ips.last_seen, EXCLUDED.last_seen),
			hit_count = ips.hit_count + 1,
			ip_type = COALESCE(EXCLUDED.ip_type, ips.ip_type),
			datacenter = COALESCE(EXCLUDED.datacenter, ips.datacenter),
			country = COALESCE(EXCLUDED.country, ips.country),
			region = COALESCE(EXCLUDED.region, ips.region),
			city = COALESCE(EXCLUDED.city, ips.city),
			latitude = COALESCE(EXCLUDED.latitude, ips.latitude),
			longitude = COALESCE(EXCLUDED.longitude, ips.longitude),
			asn = COALESCE(EXCLUDED.asn, ips.asn),
			asn_org = COALESCE(EXCLUDED.asn_org, ips.asn_org),
			rdns = COALESCE(EXCLUDED.rdns, ips.rdns),
			rdns_cloud = COALESCE(EXCLUDED.rdns_cloud, ips.rdns_cloud)`,
		ip, seenAt, nilIfEmptyStr(geo.IPType), geo.Datacenter, nilIfEmptyStr(geo.Country),
		nilIfEmptyStr(geo.Region), nilIfEmptyStr(geo.City), geo.Latitude, geo.Longitude,
		geo.ASN, nilIfEmptyStr(geo.ASNOrg), nilIfEmptyStr(geo.RDNS), geo.RDNSCloud)
	return err
}

func nilIfEmptyStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
