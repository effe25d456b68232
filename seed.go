package main

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	impacts "blitz-proxy/internal/impacts/domain"
	"blitz-proxy/internal/impacts/infrastructure/memory"
)

const kmPerDegree = 40000.0 / 360

type seedOptions struct {
	count     int
	centerLat float64
	centerLon float64
	spreadKm  float64
	start     int64
	step      time.Duration
	seed      int64
	out       string
}

func newSeedCommand() *cobra.Command {
	opts := seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate a memory store seed file",
		Long:  `Writes synthetic impacts scattered around a center point to a YAML seed file for the memory backend (MEMORY_SEED).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts)
		},
	}
	cmd.Flags().IntVarP(&opts.count, "count", "n", 1000, "Number of impacts to generate")
	cmd.Flags().Float64Var(&opts.centerLat, "lat", 45.80878, "Center latitude")
	cmd.Flags().Float64Var(&opts.centerLon, "lon", 4.872633, "Center longitude")
	cmd.Flags().Float64Var(&opts.spreadKm, "spread", 100, "Maximum offset from the center in km")
	cmd.Flags().Int64Var(&opts.start, "start", 0, "First impact time in unix seconds (defaults to one hour ago)")
	cmd.Flags().DurationVar(&opts.step, "step", time.Second, "Time between consecutive impacts")
	cmd.Flags().Int64Var(&opts.seed, "seed", 1, "Random seed")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "impacts.seed.yaml", "Seed file path")
	return cmd
}

func runSeed(opts seedOptions) error {
	if opts.start == 0 {
		opts.start = time.Now().UTC().Add(-time.Hour).Unix()
	}
	records, err := generateImpacts(opts)
	if err != nil {
		return err
	}
	if err := writeSeedFile(opts.out, records); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	log.Printf("wrote %d impacts to %s", len(records), opts.out)
	return nil
}

// generateImpacts returns opts.count impacts in time order, scattered uniformly
// over a square of half-side spreadKm around the center.
func generateImpacts(opts seedOptions) ([]memory.Record, error) {
	if opts.count <= 0 {
		return nil, errors.New("seed: count must be > 0")
	}
	if opts.centerLat < -90 || opts.centerLat > 90 || opts.centerLon < -180 || opts.centerLon > 180 {
		return nil, errors.New("seed: center out of range")
	}
	if opts.spreadKm < 0 {
		return nil, errors.New("seed: spread must be >= 0")
	}
	if opts.step < 0 {
		return nil, errors.New("seed: step must be >= 0")
	}

	rng := rand.New(rand.NewSource(opts.seed))
	dLat := opts.spreadKm / kmPerDegree
	dLon := dLat
	if c := math.Cos(opts.centerLat * math.Pi / 180); c > 1e-6 {
		dLon = math.Min(dLat/c, 180)
	}

	records := make([]memory.Record, 0, opts.count)
	base := opts.start * impacts.NanosPerSecond
	for i := 0; i < opts.count; i++ {
		lat := opts.centerLat + (rng.Float64()*2-1)*dLat
		lon := opts.centerLon + (rng.Float64()*2-1)*dLon
		records = append(records, memory.Record{
			TimeNanos: base + int64(i)*opts.step.Nanoseconds(),
			Lat:       math.Max(-90, math.Min(90, lat)),
			Lon:       wrapLongitude(lon),
		})
	}
	return records, nil
}

func wrapLongitude(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

func writeSeedFile(path string, records []memory.Record) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := memory.WriteSeed(file, records); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
