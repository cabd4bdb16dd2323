package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"

	"github.com/homeside-repairs/estimate-worker/internal/model"
	"github.com/homeside-repairs/estimate-worker/internal/store"
)

var (
	exportOut    string
	exportStatus string
	exportLimit  int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export jobs and estimates to an XLSX workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		jobs, err := st.ListJobs(ctx, store.JobFilter{
			Status: model.JobStatus(exportStatus),
			Limit:  exportLimit,
		})
		if err != nil {
			return eris.Wrap(err, "export: list jobs")
		}

		if err := writeWorkbook(exportOut, jobs); err != nil {
			return err
		}
		fmt.Printf("Exported %d jobs to %s\n", len(jobs), exportOut)
		return nil
	},
}

func writeWorkbook(path string, jobs []model.Job) error {
	f := xlsx.NewFile()

	jobSheet, err := f.AddSheet("Jobs")
	if err != nil {
		return eris.Wrap(err, "export: add jobs sheet")
	}
	addRow(jobSheet, "Job ID", "Customer", "Email", "Status", "Submitted",
		"Completed", "Subtotal", "Trip Fee", "Tax", "Total", "Email Sent", "Error")
	for _, j := range jobs {
		subtotal, tripFee, tax, total := "", "", "", ""
		if j.Estimate != nil {
			subtotal = j.Estimate.Subtotal.StringFixed(2)
			tripFee = j.Estimate.TripFee.StringFixed(2)
			tax = j.Estimate.TaxAmount.StringFixed(2)
			total = j.Estimate.Total.StringFixed(2)
		}
		addRow(jobSheet, j.ID, j.CustomerName, j.Email, string(j.Status),
			j.SubmittedAt.Format(time.RFC3339), fmtTimePtr(j.CompletedAt),
			subtotal, tripFee, tax, total, fmtTimePtr(j.EmailSentAt), j.Error)
	}

	lineSheet, err := f.AddSheet("Line Items")
	if err != nil {
		return eris.Wrap(err, "export: add line items sheet")
	}
	addRow(lineSheet, "Job ID", "Code", "Name", "Description", "Quantity", "Unit Price", "Line Total")
	for _, j := range jobs {
		if j.Estimate == nil {
			continue
		}
		for _, li := range j.Estimate.LineItems {
			addRow(lineSheet, j.ID, li.Code, li.Name, li.Description,
				li.Quantity.String(), li.UnitPrice.StringFixed(2), li.LineTotal.StringFixed(2))
		}
	}

	unmappedSheet, err := f.AddSheet("Unmapped")
	if err != nil {
		return eris.Wrap(err, "export: add unmapped sheet")
	}
	addRow(unmappedSheet, "Job ID", "Phrase", "Reason")
	for _, j := range jobs {
		for _, u := range j.UnmappedItems {
			addRow(unmappedSheet, j.ID, u.Phrase, u.Reason)
		}
	}

	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().Value = v
	}
}

func fmtTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "estimates.xlsx", "output workbook path")
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "filter by status")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 1000, "maximum jobs to export")
	rootCmd.AddCommand(exportCmd)
}
