package mail

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeside-repairs/estimate-worker/internal/config"
	"github.com/homeside-repairs/estimate-worker/internal/model"
	"github.com/homeside-repairs/estimate-worker/pkg/mailer"
)

func completedJob() *model.Job {
	return &model.Job{
		ID:           "job-1",
		CustomerName: "Dana Whitfield",
		Email:        "dana@example.com",
		Estimate: &model.Estimate{
			Summary: "One smoke detector needs replacement.",
			LineItems: []model.PricedLineItem{{
				Code: "SMOKE01", Name: "Smoke detector, replace",
				Quantity:  decimal.NewFromInt(1),
				UnitPrice: decimal.RequireFromString("45.00"),
				LineTotal: decimal.RequireFromString("45.00"),
			}},
			Subtotal:  decimal.RequireFromString("45.00"),
			TripFee:   decimal.Zero,
			TaxRate:   decimal.RequireFromString("0.1"),
			TaxAmount: decimal.RequireFromString("4.50"),
			Total:     decimal.RequireFromString("49.50"),
		},
	}
}

func TestRender(t *testing.T) {
	tmpl := &model.EmailTemplate{
		Subject: "Estimate for {{.CustomerName}}",
		Body: `Hi {{.CustomerName}},

{{.Summary}}
{{range .LineItems}}{{.Name}} x{{.Quantity}}: ${{.LineTotal}}
{{end}}Subtotal: ${{.Subtotal}}
Tax ({{.TaxPercent}}%): ${{.TaxAmount}}
Total: ${{.Total}}`,
	}

	subject, text, html, err := Render(tmpl, completedJob())
	require.NoError(t, err)
	assert.Equal(t, "Estimate for Dana Whitfield", subject)
	assert.Contains(t, text, "Smoke detector, replace x1: $45.00")
	assert.Contains(t, text, "Tax (10.00%): $4.50")
	assert.Contains(t, text, "Total: $49.50")
	assert.Contains(t, html, "<br>")
	assert.Contains(t, html, "Total: $49.50")
}

func TestRender_NoEstimate(t *testing.T) {
	job := completedJob()
	job.Estimate = nil
	_, _, _, err := Render(&model.EmailTemplate{Subject: "s", Body: "b"}, job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no estimate")
}

func TestRender_BadTemplate(t *testing.T) {
	_, _, _, err := Render(&model.EmailTemplate{Subject: "{{.Broken", Body: "b"}, completedJob())
	require.Error(t, err)
}

// recordingMailer captures the last message without sending anything.
type recordingMailer struct {
	last mailer.Message
	err  error
}

func (r *recordingMailer) Send(_ context.Context, msg mailer.Message) (*mailer.SendResponse, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.last = msg
	return &mailer.SendResponse{ID: "msg-1"}, nil
}

func TestNotifier_SendEstimate(t *testing.T) {
	rec := &recordingMailer{}
	n := New(rec, config.DeliveryConfig{
		FromAddress:      "estimates@homeside.example",
		OversightAddress: "estimates-oversight@homeside.example",
	})

	snap := &model.Snapshot{Template: &model.EmailTemplate{
		Subject: "Your estimate",
		Body:    "Total: ${{.Total}}",
	}}

	sentAt, err := n.SendEstimate(context.Background(), completedJob(), snap)
	require.NoError(t, err)
	assert.False(t, sentAt.IsZero())
	assert.Equal(t, []string{"dana@example.com", "estimates-oversight@homeside.example"}, rec.last.To)
	assert.Equal(t, "estimates@homeside.example", rec.last.From)
	assert.Contains(t, rec.last.Text, "Total: $49.50")
}

func TestNotifier_SendEstimate_NoTemplate(t *testing.T) {
	n := New(&recordingMailer{}, config.DeliveryConfig{FromAddress: "a@b.c"})
	_, err := n.SendEstimate(context.Background(), completedJob(), &model.Snapshot{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no email template")
}
