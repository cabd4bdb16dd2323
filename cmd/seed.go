package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/homeside-repairs/estimate-worker/internal/model"
)

// seedFile is the YAML shape operators maintain for configuration snapshots.
// Money values are strings so spreadsheet exports round-trip without float
// drift.
type seedFile struct {
	Catalog []struct {
		Code        string `yaml:"code"`
		Name        string `yaml:"name"`
		Unit        string `yaml:"unit"`
		UnitPrice   string `yaml:"unit_price"`
		MinQuantity string `yaml:"min_quantity"`
		Notes       string `yaml:"notes"`
	} `yaml:"catalog"`
	Aliases []struct {
		Phrase string `yaml:"phrase"`
		Code   string `yaml:"code"`
	} `yaml:"aliases"`
	Rules []struct {
		Key      string `yaml:"key"`
		Value    string `yaml:"value"`
		Priority int    `yaml:"priority"`
	} `yaml:"rules"`
	TripFee *struct {
		Label         string `yaml:"label"`
		BaseFee       string `yaml:"base_fee"`
		PerMile       string `yaml:"per_mile"`
		AfterHoursFee string `yaml:"after_hours_fee"`
	} `yaml:"trip_fee"`
	Template *struct {
		Subject string `yaml:"subject"`
		Body    string `yaml:"body"`
	} `yaml:"template"`
}

var (
	seedPath     string
	seedActivate bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a configuration snapshot from a YAML file",
	Long: `Reads a catalog/alias/rule/policy bundle from YAML and saves it as a new
versioned snapshot. With --activate the new snapshot atomically becomes the
one the worker uses.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		raw, err := os.ReadFile(seedPath)
		if err != nil {
			return eris.Wrapf(err, "read seed file %s", seedPath)
		}
		var sf seedFile
		if err := yaml.Unmarshal(raw, &sf); err != nil {
			return eris.Wrap(err, "parse seed file")
		}

		snap, err := buildSnapshot(sf)
		if err != nil {
			return err
		}
		if len(snap.Catalog) == 0 {
			return eris.New("seed file has no catalog entries")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if err := st.SaveSnapshot(ctx, snap, seedActivate); err != nil {
			return eris.Wrap(err, "save snapshot")
		}

		state := "saved (inactive)"
		if seedActivate {
			state = "saved and activated"
		}
		fmt.Printf("Snapshot %s version %d %s: %d catalog entries, %d aliases, %d rules\n",
			snap.ID, snap.Version, state, len(snap.Catalog), len(snap.Aliases), len(snap.Rules))
		return nil
	},
}

func buildSnapshot(sf seedFile) (*model.Snapshot, error) {
	snap := &model.Snapshot{}

	for _, c := range sf.Catalog {
		price, err := decimal.NewFromString(c.UnitPrice)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog entry %s: unit_price %q", c.Code, c.UnitPrice)
		}
		minQty := decimal.Zero
		if c.MinQuantity != "" {
			if minQty, err = decimal.NewFromString(c.MinQuantity); err != nil {
				return nil, eris.Wrapf(err, "catalog entry %s: min_quantity %q", c.Code, c.MinQuantity)
			}
		}
		snap.Catalog = append(snap.Catalog, model.CatalogEntry{
			Code: c.Code, Name: c.Name, Unit: c.Unit,
			UnitPrice: price, MinQuantity: minQty, Notes: c.Notes,
		})
	}
	for _, a := range sf.Aliases {
		snap.Aliases = append(snap.Aliases, model.AliasEntry{Phrase: a.Phrase, Code: a.Code})
	}
	for _, r := range sf.Rules {
		snap.Rules = append(snap.Rules, model.RuleEntry{Key: r.Key, Value: r.Value, Priority: r.Priority})
	}
	if sf.TripFee != nil {
		base, err := decimal.NewFromString(sf.TripFee.BaseFee)
		if err != nil {
			return nil, eris.Wrapf(err, "trip_fee: base_fee %q", sf.TripFee.BaseFee)
		}
		policy := &model.TripFeePolicy{Label: sf.TripFee.Label, BaseFee: base}
		if sf.TripFee.PerMile != "" {
			if policy.PerMile, err = decimal.NewFromString(sf.TripFee.PerMile); err != nil {
				return nil, eris.Wrapf(err, "trip_fee: per_mile %q", sf.TripFee.PerMile)
			}
		}
		if sf.TripFee.AfterHoursFee != "" {
			if policy.AfterHoursFee, err = decimal.NewFromString(sf.TripFee.AfterHoursFee); err != nil {
				return nil, eris.Wrapf(err, "trip_fee: after_hours_fee %q", sf.TripFee.AfterHoursFee)
			}
		}
		snap.TripFee = policy
	}
	if sf.Template != nil {
		snap.Template = &model.EmailTemplate{Subject: sf.Template.Subject, Body: sf.Template.Body}
	}
	return snap, nil
}

func init() {
	seedCmd.Flags().StringVar(&seedPath, "file", "snapshot.yaml", "path to the snapshot YAML file")
	seedCmd.Flags().BoolVar(&seedActivate, "activate", false, "activate the snapshot after saving")
	rootCmd.AddCommand(seedCmd)
}
