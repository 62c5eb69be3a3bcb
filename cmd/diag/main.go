// Command diag cross-validates the two-body propagator against the SGP4
// model from go-satellite. It reads a TLE file, propagates each satellite
// with both models over a range of offsets from now, and reports the
// ground-track divergence. Expect drift to grow with offset; the two-body
// model ignores drag and J2, so large divergence hours out is normal.
//
// Usage:
//
//	diag -tle elements.txt -offsets 0,600,3600
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/orbit/passgo/internal/propagation"
	"github.com/orbit/passgo/internal/tle"
)

func main() {
	tlePath := flag.String("tle", "", "path to TLE file (required)")
	offsets := flag.String("offsets", "0,60,600,3600", "comma-separated offsets from now in seconds")
	flag.Parse()

	if *tlePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	f, err := os.Open(*tlePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	els, err := tle.Parse(f, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var offs []time.Duration
	for _, s := range strings.Split(*offsets, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad offset %q\n", s)
			os.Exit(2)
		}
		offs = append(offs, time.Duration(n)*time.Second)
	}

	now := time.Now().UTC()
	fmt.Printf("%-8s %-24s %-10s %-12s %-12s %-10s\n",
		"NORAD", "NAME", "OFFSET", "DLAT_DEG", "DLON_DEG", "DALT_KM")

	for _, el := range els {
		kp, err := propagation.NewPropagator(el)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skip %d: %v\n", el.NORADID, err)
			continue
		}

		sat := satellite.TLEToSat(el.Line1, el.Line2, satellite.GravityWGS84)
		if sat.Error != 0 {
			fmt.Fprintf(os.Stderr, "skip %d: sgp4 init code=%d\n", el.NORADID, sat.Error)
			continue
		}

		for _, off := range offs {
			t := now.Add(off)

			kg, err := kp.Propagate(t)
			if err != nil {
				fmt.Fprintf(os.Stderr, "skip %d +%s: %v\n", el.NORADID, off, err)
				continue
			}

			pos, _ := satellite.Propagate(sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
			if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) {
				fmt.Fprintf(os.Stderr, "skip %d +%s: sgp4 output NaN\n", el.NORADID, off)
				continue
			}
			gmst := satellite.GSTimeFromDate(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
			alt, _, ll := satellite.ECIToLLA(pos, gmst)
			refLat := ll.Latitude * 180 / math.Pi
			refLon := normalizeLon(ll.Longitude * 180 / math.Pi)

			dlat := math.Abs(kg.LatDeg - refLat)
			dlon := lonDelta(kg.LonDeg, refLon)
			dalt := math.Abs(kg.AltKm - alt)

			fmt.Printf("%-8d %-24s %-10s %-12.4f %-12.4f %-10.2f\n",
				el.NORADID, truncate(el.Name, 24), off, dlat, dlon, dalt)
		}
	}
}

func normalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

// lonDelta returns the shortest angular distance between two longitudes.
func lonDelta(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 180 {
		d = 360 - d
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
