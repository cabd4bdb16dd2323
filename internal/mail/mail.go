// Package mail renders estimate emails from the active snapshot's template
// and delivers them through the transactional email API.
package mail

import (
	"bytes"
	"context"
	htmltemplate "html/template"
	"strings"
	"text/template"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/homeside-repairs/estimate-worker/internal/config"
	"github.com/homeside-repairs/estimate-worker/internal/model"
	"github.com/homeside-repairs/estimate-worker/pkg/mailer"
)

// LineItemView is a display-ready line item.
type LineItemView struct {
	Code        string
	Name        string
	Description string
	Quantity    string
	UnitPrice   string
	LineTotal   string
}

// TemplateData is the data available to snapshot email templates. All money
// fields are preformatted with two decimals.
type TemplateData struct {
	CustomerName string
	Summary      string
	LineItems    []LineItemView
	Subtotal     string
	TripFee      string
	TaxPercent   string
	TaxAmount    string
	Total        string
	Assumptions  []string
	Unmapped     []model.UnmappedItem
}

// BuildTemplateData formats a job's estimate for template rendering.
func BuildTemplateData(job *model.Job) (*TemplateData, error) {
	if job.Estimate == nil {
		return nil, eris.Errorf("job %s has no estimate to render", job.ID)
	}
	est := job.Estimate

	data := &TemplateData{
		CustomerName: job.CustomerName,
		Summary:      est.Summary,
		Subtotal:     est.Subtotal.StringFixed(2),
		TripFee:      est.TripFee.StringFixed(2),
		TaxPercent:   est.TaxRate.Mul(decimal.NewFromInt(100)).StringFixed(2),
		TaxAmount:    est.TaxAmount.StringFixed(2),
		Total:        est.Total.StringFixed(2),
		Assumptions:  est.Assumptions,
		Unmapped:     est.Unmapped,
	}
	for _, li := range est.LineItems {
		data.LineItems = append(data.LineItems, LineItemView{
			Code:        li.Code,
			Name:        li.Name,
			Description: li.Description,
			Quantity:    li.Quantity.String(),
			UnitPrice:   li.UnitPrice.StringFixed(2),
			LineTotal:   li.LineTotal.StringFixed(2),
		})
	}
	return data, nil
}

// Render executes the snapshot template against a completed job. The text
// body comes from text/template; the HTML body re-executes the same source
// through html/template so interpolated values are escaped.
func Render(tmpl *model.EmailTemplate, job *model.Job) (subject, textBody, htmlBody string, err error) {
	data, err := BuildTemplateData(job)
	if err != nil {
		return "", "", "", err
	}

	subjectTmpl, err := template.New("subject").Parse(tmpl.Subject)
	if err != nil {
		return "", "", "", eris.Wrap(err, "mail: parse subject template")
	}
	var subjBuf bytes.Buffer
	if err := subjectTmpl.Execute(&subjBuf, data); err != nil {
		return "", "", "", eris.Wrap(err, "mail: render subject")
	}

	bodyTmpl, err := template.New("body").Parse(tmpl.Body)
	if err != nil {
		return "", "", "", eris.Wrap(err, "mail: parse body template")
	}
	var textBuf bytes.Buffer
	if err := bodyTmpl.Execute(&textBuf, data); err != nil {
		return "", "", "", eris.Wrap(err, "mail: render body")
	}

	htmlTmpl, err := htmltemplate.New("body").Parse(strings.ReplaceAll(tmpl.Body, "\n", "<br>\n"))
	if err != nil {
		return "", "", "", eris.Wrap(err, "mail: parse html body template")
	}
	var htmlBuf bytes.Buffer
	if err := htmlTmpl.Execute(&htmlBuf, data); err != nil {
		return "", "", "", eris.Wrap(err, "mail: render html body")
	}

	return strings.TrimSpace(subjBuf.String()), textBuf.String(), htmlBuf.String(), nil
}

// Notifier delivers rendered estimates by email.
type Notifier struct {
	client mailer.Client
	cfg    config.DeliveryConfig
}

// New creates a Notifier.
func New(client mailer.Client, cfg config.DeliveryConfig) *Notifier {
	return &Notifier{client: client, cfg: cfg}
}

// SendEstimate renders and sends the estimate to the customer, with the
// oversight address copied when configured.
func (n *Notifier) SendEstimate(ctx context.Context, job *model.Job, snap *model.Snapshot) (time.Time, error) {
	if snap.Template == nil {
		return time.Time{}, eris.New("mail: active snapshot has no email template")
	}

	subject, textBody, htmlBody, err := Render(snap.Template, job)
	if err != nil {
		return time.Time{}, err
	}

	to := []string{job.Email}
	if n.cfg.OversightAddress != "" {
		to = append(to, n.cfg.OversightAddress)
	}

	resp, err := n.client.Send(ctx, mailer.Message{
		From:    n.cfg.FromAddress,
		To:      to,
		Subject: subject,
		Text:    textBody,
		HTML:    htmlBody,
	})
	if err != nil {
		return time.Time{}, err
	}

	sentAt := time.Now().UTC()
	zap.L().Info("estimate email delivered",
		zap.String("job_id", job.ID),
		zap.String("message_id", resp.ID),
		zap.Strings("to", to),
	)
	return sentAt, nil
}
