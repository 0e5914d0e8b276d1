package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/sakif/student-crm/internal/model"
)

// statusStyle is the per-decision wording and colour of the status mail.
type statusStyle struct {
	Subject   string
	Color     string
	Icon      string
	Title     string
	Body      string
	NextSteps []string
	Numbered  bool
}

var statusStyles = map[model.ApplicationStatus]statusStyle{
	model.StatusApproved: {
		Subject: "Application Approved - FK Education",
		Color:   "#10B981",
		Icon:    "✅",
		Title:   "Congratulations! Your application has been approved.",
		Body:    "We are pleased to inform you that your application has been approved. You will receive further instructions shortly.",
		NextSteps: []string{
			"You will receive detailed enrollment instructions within 48 hours",
			"Complete any additional requirements as specified",
			"Prepare for your academic journey",
		},
		Numbered: true,
	},
	model.StatusRejected: {
		Subject: "Application Update - FK Education",
		Color:   "#EF4444",
		Icon:    "❌",
		Title:   "Application Status Update",
		Body:    "We regret to inform you that your application has not been approved at this time.",
		NextSteps: []string{
			"You may reapply for future intakes",
			"Consider addressing any areas mentioned in the feedback",
			"Contact us if you have questions about the decision",
		},
	},
	model.StatusWaitlisted: {
		Subject: "Application Waitlisted - FK Education",
		Color:   "#8B5CF6",
		Icon:    "⏳",
		Title:   "Application Waitlisted",
		Body:    "Your application has been placed on our waitlist. We will contact you if a spot becomes available.",
		NextSteps: []string{
			"We will contact you if a spot becomes available",
			"You may also apply for other intakes",
			"Keep your contact information updated",
		},
	},
	model.StatusUnderReview: {
		Subject: "Application Under Review - FK Education",
		Color:   "#3B82F6",
		Icon:    "🔎",
		Title:   "Your application is being reviewed",
		Body:    "An admissions officer has started reviewing your application. We will let you know as soon as a decision is made.",
		NextSteps: []string{
			"No action is needed from you right now",
			"Make sure your phone and email are reachable",
			"Reply to our team if your circumstances change",
		},
	},
}

const layoutHead = `<!DOCTYPE html><html><head><meta charset="utf-8"></head>
<body style="font-family:Arial,sans-serif;line-height:1.6;color:#333;max-width:600px;margin:0 auto;padding:20px">`

const layoutFoot = `<div style="text-align:center;color:#666;font-size:12px;margin-top:30px">
<p>This is an automated message. Please do not reply to this email.</p>
<p>&copy; {{.Year}} {{.Org}}. All rights reserved.</p></div></body></html>`

var htmlTemplates = htmltemplate.Must(htmltemplate.New("mail").Parse(`
{{define "verification"}}` + layoutHead + `
<h1>{{.Brand}}</h1>
<p>Hello {{if .Name}}{{.Name}}{{else}}there{{end}},</p>
<p>Please verify your email by clicking the link below:</p>
<p><a href="{{.Link}}" style="background:#2563EB;color:#fff;padding:10px 18px;border-radius:6px;text-decoration:none">Verify Email</a></p>
<p>This link expires in 24 hours.</p>` + layoutFoot + `{{end}}

{{define "welcome"}}` + layoutHead + `
<h1>Welcome {{.Name}}!</h1>
<p>Your {{.Brand}} account has been created.</p>
<p><a href="{{.Link}}">Sign in</a> to start your application.</p>` + layoutFoot + `{{end}}

{{define "reset"}}` + layoutHead + `
<h1>Hello {{if .Name}}{{.Name}}{{else}}there{{end}}!</h1>
<p>Your {{.Brand}} password reset code is:</p>
<h2 style="letter-spacing:6px;font-size:32px">{{.Code}}</h2>
<p>The code expires in 10 minutes. If you did not ask for it, ignore this email.</p>` + layoutFoot + `{{end}}

{{define "confirmation"}}` + layoutHead + `
<h1>Application Received</h1>
<p>Dear {{.Name}},</p>
<p>Thank you for applying to {{.Org}}. We have received your application and it is now pending review.</p>
<p><strong>Application ID:</strong> {{.ApplicationID}}<br><strong>Submitted:</strong> {{.Date}}</p>
<p>We will email you when its status changes.</p>` + layoutFoot + `{{end}}

{{define "status"}}` + layoutHead + `
<div style="background:{{.Style.Color}};color:#fff;padding:20px;border-radius:8px 8px 0 0;text-align:center">
<h1>{{.Style.Icon}} Application Status Update</h1><p>{{.Org}}</p></div>
<div style="padding:20px;border:1px solid #eee">
<h2>Dear {{.Name}},</h2>
<p style="display:inline-block;background:{{.Style.Color}};color:#fff;padding:4px 12px;border-radius:12px">{{.StatusLabel}}</p>
<h3>{{.Style.Title}}</h3>
<p>{{.Style.Body}}</p>
<p><strong>Application ID:</strong> {{.ApplicationID}}<br><strong>Status:</strong> {{.StatusLabel}}<br><strong>Date:</strong> {{.Date}}</p>
{{if .Reason}}<div style="background:#f9fafb;border-left:4px solid {{.Style.Color}};padding:10px"><h4>Additional Information:</h4><p>{{.Reason}}</p></div>{{end}}
<h3>Next Steps:</h3>
{{if .Style.Numbered}}<ol>{{range .Style.NextSteps}}<li>{{.}}</li>{{end}}</ol>{{else}}<ul>{{range .Style.NextSteps}}<li>{{.}}</li>{{end}}</ul>{{end}}
<p>Thank you for your interest in {{.Org}}.</p>
<p>Best regards,<br><strong>The {{.Org}} Team</strong></p></div>` + layoutFoot + `{{end}}
`))

const textSource = `
{{define "reset"}}Hello {{if .Name}}{{.Name}}{{else}}there{{end}}!

Your {{.Brand}} password reset code is: {{.Code}}

The code expires in 10 minutes. If you did not ask for it, ignore this email.
{{end}}

{{define "status"}}Application Status Update - {{.Org}}

Dear {{.Name}},

{{.Style.Title}}

{{.Style.Body}}

Application ID: {{.ApplicationID}}
Status: {{.StatusLabel}}
Date: {{.Date}}
{{if .Reason}}
Additional Information: {{.Reason}}
{{end}}
Next Steps:
{{range $i, $s := .Style.NextSteps}}{{if $.Style.Numbered}}{{inc $i}}.{{else}}-{{end}} {{$s}}
{{end}}
Thank you for your interest in {{.Org}}.

Best regards,
The {{.Org}} Team
{{end}}
`

var textTemplates = texttemplate.Must(texttemplate.New("mail").
	Funcs(texttemplate.FuncMap{"inc": func(i int) int { return i + 1 }}).
	Parse(textSource))

// Composer renders every notification the CRM sends.
type Composer struct {
	Brand  string // product name in subjects, e.g. "FK CRM"
	Org    string // organisation signing application mail
	AppURL string // web client base URL
	now    func() time.Time
}

func NewComposer(appURL string) *Composer {
	return &Composer{
		Brand:  "FK CRM",
		Org:    "FK Education",
		AppURL: strings.TrimRight(appURL, "/"),
		now:    time.Now,
	}
}

type mailData struct {
	Brand         string
	Org           string
	Year          int
	Name          string
	Link          string
	Code          string
	ApplicationID string
	Date          string
	StatusLabel   string
	Reason        string
	Style         statusStyle
}

func (c *Composer) data() mailData {
	now := c.now()
	return mailData{
		Brand: c.Brand,
		Org:   c.Org,
		Year:  now.Year(),
		Date:  now.Format("January 2, 2006"),
	}
}

// VerificationLink is the client page that posts the token back.
func (c *Composer) VerificationLink(token string) string {
	return c.AppURL + "/verify-email?token=" + token
}

func (c *Composer) Verification(to, name, token string) (Message, error) {
	d := c.data()
	d.Name = name
	d.Link = c.VerificationLink(token)
	return c.render(to, "Verify Your Email - "+c.Brand, "verification", false, d)
}

func (c *Composer) Welcome(to, name string) (Message, error) {
	d := c.data()
	d.Name = name
	if d.Name == "" {
		d.Name = to
	}
	d.Link = c.AppURL + "/login"
	return c.render(to, "Welcome to "+c.Brand+"!", "welcome", false, d)
}

func (c *Composer) PasswordReset(to, name, code string) (Message, error) {
	d := c.data()
	d.Name = name
	d.Code = code
	return c.render(to, "Password Reset Code - "+c.Brand, "reset", true, d)
}

func (c *Composer) ApplicationConfirmation(app *model.Application) (Message, error) {
	d := c.data()
	d.Name = app.FullName()
	d.ApplicationID = app.ID
	return c.render(app.Email, "Application Received - "+c.Org, "confirmation", false, d)
}

// ApplicationStatus renders the decision mail. Only statuses an admin can
// move an application to have a template.
func (c *Composer) ApplicationStatus(app *model.Application, reason string) (Message, error) {
	style, ok := statusStyles[app.Status]
	if !ok {
		return Message{}, fmt.Errorf("email: no status template for %s", app.Status)
	}
	d := c.data()
	d.Name = app.FullName()
	d.ApplicationID = app.ID
	d.StatusLabel = strings.ReplaceAll(string(app.Status), "_", " ")
	d.Reason = reason
	d.Style = style
	return c.render(app.Email, style.Subject, "status", true, d)
}

func (c *Composer) render(to, subject, name string, withText bool, d mailData) (Message, error) {
	var html bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&html, name, d); err != nil {
		return Message{}, fmt.Errorf("email: rendering %s html: %w", name, err)
	}
	msg := Message{To: to, Subject: subject, HTML: html.String()}

	if withText {
		var text bytes.Buffer
		if err := textTemplates.ExecuteTemplate(&text, name, d); err != nil {
			return Message{}, fmt.Errorf("email: rendering %s text: %w", name, err)
		}
		msg.Text = strings.TrimSpace(text.String())
	}
	return msg, nil
}
