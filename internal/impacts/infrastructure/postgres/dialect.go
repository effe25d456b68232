package postgres

import (
	"fmt"

	impacts "blitz-proxy/internal/impacts/domain"
)

// dialect holds the statements of one storage encoding.
// Find binds $1 since (ns), $2 lat, $3 lon, $4 radius (m) and returns time in whole seconds.
type dialect struct {
	find   string
	latest string
	stats  string
}

func newDialect(encoding impacts.Encoding, table string) dialect {
	latest := fmt.Sprintf(`SELECT time FROM %s ORDER BY time DESC LIMIT 1`, table)

	if encoding == impacts.EncodingCurrent {
		lat := fmt.Sprintf("(lat::float8 / %d)", impacts.CoordinateScale)
		lon := fmt.Sprintf("(lon::float8 / %d)", impacts.CoordinateScale)
		return dialect{
			find: fmt.Sprintf(`
SELECT DISTINCT time / %[4]d AS ts, lat, lon
FROM %[1]s
WHERE time > $1
	AND earth_box(ll_to_earth($2::float8, $3::float8), $4::float8) @> ll_to_earth(%[2]s, %[3]s)
	AND earth_distance(ll_to_earth($2::float8, $3::float8), ll_to_earth(%[2]s, %[3]s)) <= $4::float8
ORDER BY ts ASC, lat ASC, lon ASC`, table, lat, lon, impacts.NanosPerSecond),
			latest: latest,
			stats:  statsQuery(table, lat, lon),
		}
	}

	return dialect{
		find: fmt.Sprintf(`
SELECT DISTINCT
	time / %[2]d AS ts,
	location[0] AS lat,
	location[1] AS lon,
	CAST(earth_distance(ll_to_earth(location[0], location[1]), ll_to_earth($2::float8, $3::float8)) AS BIGINT) AS distance
FROM %[1]s
WHERE time > $1
	AND earth_box(ll_to_earth($2::float8, $3::float8), $4::float8) @> ll_to_earth(location[0], location[1])
	AND earth_distance(ll_to_earth(location[0], location[1]), ll_to_earth($2::float8, $3::float8)) <= $4::float8
ORDER BY ts ASC, lat ASC, lon ASC`, table, impacts.NanosPerSecond),
		latest: latest,
		stats:  statsQuery(table, "location[0]", "location[1]"),
	}
}

func statsQuery(table, lat, lon string) string {
	return fmt.Sprintf(`
SELECT n.nb, f.time, f.lat, f.lon, l.time, l.lat, l.lon
FROM (SELECT COUNT(*) AS nb FROM %[1]s) AS n
LEFT JOIN LATERAL (
	SELECT time, %[2]s AS lat, %[3]s AS lon FROM %[1]s ORDER BY time ASC LIMIT 1
) AS f ON true
LEFT JOIN LATERAL (
	SELECT time, %[2]s AS lat, %[3]s AS lon FROM %[1]s ORDER BY time DESC LIMIT 1
) AS l ON true`, table, lat, lon)
}
