package emailsvc

import (
	"fmt"
	"log"
	"net/http"
	"net/mail"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trezcool/bhorti/core"
)

var (
	host     = "https://api.sendgrid.com"
	endpoint = "/v3/mail/send"
)

type SendgridService struct {
	conf       *core.Config
	key        string
	from       *sgmail.Email
	subjPrefix string
	logger     core.Logger
	sync       bool
	api        func(req rest.Request) (*rest.Response, error) // mockable
}

var _ core.EmailService = (*SendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) *SendgridService {
	from := conf.DefaultFromEmail()
	return &SendgridService{
		conf:       conf,
		key:        conf.SendgridApiKey,
		from:       sgmail.NewEmail(from.Name, from.Address),
		subjPrefix: "[" + conf.AppName + "] ",
		logger:     logger,
		api:        sendgrid.API,
	}
}

// New returns the sendgrid service when an API key is configured, the console service otherwise.
func New(conf *core.Config, std *log.Logger, logger core.Logger) core.EmailService {
	if conf.SendgridApiKey != "" && !conf.TestMode {
		return NewSendgridService(conf, logger)
	}
	return NewConsoleService(conf, std, logger)
}

// NewSynchronous is New for short-lived processes (the admin CLI): SendMessages blocks until every message is handed over.
func NewSynchronous(conf *core.Config, std *log.Logger, logger core.Logger) core.EmailService {
	if conf.SendgridApiKey != "" && !conf.TestMode {
		return NewSendgridService(conf, logger).Synchronous()
	}
	return NewConsoleService(conf, std, logger).Synchronous()
}

// Synchronous makes SendMessages block until every message is sent.
func (svc *SendgridService) Synchronous() *SendgridService {
	svc.sync = true
	return svc
}

func (svc SendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		if svc.sync {
			svc.sendMessage(msg)
		} else {
			go svc.sendMessage(msg)
		}
	}
}

func (svc SendgridService) sendMessage(msg *core.EmailMessage) {
	if err := msg.Render(svc.conf); err != nil {
		svc.logger.Error(fmt.Sprintf("rendering email: %v", err), err)
		return
	}
	if msg.HasRecipients() && (msg.HasContent() || msg.HasAttachments()) {
		svc.send(*msg)
	}
}

func (svc SendgridService) prepare(msg core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.subjPrefix + msg.Subject

	for _, to := range msg.To {
		p.AddTos(sgEmail(to))
	}
	for _, cc := range msg.Cc {
		p.AddCCs(sgEmail(cc))
	}
	for _, bcc := range msg.Bcc {
		p.AddBCCs(sgEmail(bcc))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)

	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}

	for _, at := range msg.Attachments {
		m.AddAttachment(&sgmail.Attachment{
			Content:     at.Content.String(),
			Type:        at.ContentType,
			Filename:    at.Filename,
			Disposition: "attachment",
		})
	}
	return m
}

func sgEmail(addr mail.Address) *sgmail.Email {
	return sgmail.NewEmail(addr.Name, addr.Address)
}

func (svc SendgridService) send(msg core.EmailMessage) {
	req := sendgrid.GetRequest(svc.key, endpoint, host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(svc.prepare(msg))

	res, err := svc.api(req)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("sending email: %v", err), err)
	} else if res.StatusCode >= http.StatusBadRequest {
		svc.logger.Error(fmt.Sprintf("sending email - status: %d - body: %s", res.StatusCode, res.Body))
	}
}
