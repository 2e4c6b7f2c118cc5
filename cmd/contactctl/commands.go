package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"sosapp/contact-server/internal/contact"
	"sosapp/contact-server/internal/geo"
)

func distanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "distance LAT1 LON1 LAT2 LON2",
		Short: "Print the great-circle distance between two points",
		Long: "Print the great-circle distance between two points given in decimal degrees.\n" +
			"Put \"--\" before the coordinates when any of them is negative.",
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			coords, err := parseCoordinates(args)
			if err != nil {
				return err
			}

			from := geo.Point{Latitude: coords[0], Longitude: coords[1]}
			to := geo.Point{Latitude: coords[2], Longitude: coords[3]}
			meters := from.DistanceTo(to)

			fmt.Printf("%s (%.3f km)\n", okColor.Sprintf("%.1f m", meters), meters/1000)
			return nil
		},
	}
}

func parseCoordinates(args []string) ([]float64, error) {
	coords := make([]float64, len(args))
	for i, arg := range args {
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("coordinate %d: %w", i+1, err)
		}
		if !geo.Finite(v) {
			return nil, fmt.Errorf("coordinate %d: %w", i+1, contact.ErrInvalidCoordinate)
		}
		coords[i] = v
	}
	return coords, nil
}

func scanCmd(defaultWindow time.Duration) *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one contact pass against the database now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			scanner := contact.NewScanner(s, contact.Options{Window: window, Logger: cliLogger()})
			res, err := scanner.RunPass(ctx)
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}

			fmt.Printf("window since %s\n", dimColor.Sprint(res.Since.Format(time.RFC3339)))
			fmt.Printf("users %d, pairs %d\n", res.Users, res.Pairs)
			if res.Contacts > 0 {
				okColor.Printf("%d contact(s) recorded\n", res.Contacts)
			} else {
				fmt.Println("no contacts")
			}
			if res.Skipped > 0 {
				warnColor.Printf("%d pair(s) skipped, rerun with -v for details\n", res.Skipped)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&window, "window", defaultWindow, "look-back window for location samples")
	return cmd
}

func contactsCmd() *cobra.Command {
	var (
		userID string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "List recorded contact events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			events, err := s.RecentContactEvents(ctx, userID, limit)
			if err != nil {
				return err
			}

			if len(events) == 0 {
				fmt.Println("No contact events.")
				return nil
			}

			for _, ev := range events {
				fmt.Printf("%s  %s <-> %s  %s\n",
					dimColor.Sprint(ev.CreatedAt.Local().Format("2006-01-02 15:04:05")),
					ev.FirstID,
					ev.SecondID,
					okColor.Sprintf("%d", ev.Duration),
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "only events involving this user")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max events to show")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Load location samples from a CSV file (user_id,latitude,longitude,captured_at)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer f.Close()

			samples, rowErrs, err := readSamples(f)
			if err != nil {
				return err
			}

			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			imported := 0
			for _, sample := range samples {
				if err := s.InsertLocationSample(ctx, sample); err != nil {
					return err
				}
				imported++
			}

			for _, rowErr := range rowErrs {
				warnColor.Fprintf(os.Stderr, "skipped %v\n", rowErr)
			}
			okColor.Printf("Imported %d sample(s)\n", imported)
			return nil
		},
	}
}
