package emailsvc

import (
	"fmt"
	"log"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/trezcool/bhorti/core"
)

// ConsoleService prints the messages instead of sending them. Used in development & tests.
type ConsoleService struct {
	conf       *core.Config
	from       mail.Address
	subjPrefix string
	std        *log.Logger
	logger     core.Logger
	sync       bool
}

var _ core.EmailService = (*ConsoleService)(nil)

func NewConsoleService(conf *core.Config, std *log.Logger, logger core.Logger) *ConsoleService {
	return &ConsoleService{
		conf:       conf,
		from:       conf.DefaultFromEmail(),
		subjPrefix: "[" + conf.AppName + "] ",
		std:        std,
		logger:     logger,
	}
}

// Synchronous makes SendMessages block until every message is printed.
func (svc *ConsoleService) Synchronous() *ConsoleService {
	svc.sync = true
	return svc
}

func (svc ConsoleService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		if svc.sync {
			svc.sendMessage(msg)
		} else {
			go svc.sendMessage(msg)
		}
	}
}

func (svc ConsoleService) sendMessage(msg *core.EmailMessage) {
	if err := msg.Render(svc.conf); err != nil {
		svc.logger.Error(fmt.Sprintf("rendering email: %v", err), err)
		return
	}
	if msg.HasRecipients() && (msg.HasContent() || msg.HasAttachments()) {
		if err := svc.send(*msg); err != nil {
			svc.logger.Error(fmt.Sprintf("printing email: %v", err), err)
		}
	}
}

func (svc ConsoleService) send(msg core.EmailMessage) error {
	body := new(strings.Builder)

	// Write mail header
	_, _ = fmt.Fprintf(body, "From: %s\r\n", svc.from.String())
	_, _ = fmt.Fprint(body, "MIME-Version: 1.0\r\n")
	_, _ = fmt.Fprintf(body, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	_, _ = fmt.Fprintf(body, "Subject: %s\r\n", svc.subjPrefix+msg.Subject)
	_, _ = fmt.Fprintf(body, "To: %s\r\n", joinAddresses(msg.To))
	if len(msg.Cc) > 0 {
		_, _ = fmt.Fprintf(body, "CC: %s\r\n", joinAddresses(msg.Cc))
	}
	if len(msg.Bcc) > 0 {
		_, _ = fmt.Fprintf(body, "BCC: %s\r\n", joinAddresses(msg.Bcc))
	}

	var mixedW *multipart.Writer
	altW := multipart.NewWriter(body)

	if msg.HasAttachments() {
		mixedW = multipart.NewWriter(body)
		_, _ = fmt.Fprintf(body, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mixedW.Boundary())
		if _, err := mixedW.CreatePart(textproto.MIMEHeader{
			"Content-Type": {"multipart/alternative; boundary=" + altW.Boundary()},
		}); err != nil {
			return err
		}
	} else {
		_, _ = fmt.Fprintf(body, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", altW.Boundary())
	}

	w, err := altW.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "%s\r\n", msg.TextContent)

	if msg.HTMLContent != "" {
		w, err = altW.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=utf-8"}})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "%s\r\n", msg.HTMLContent)
	}
	if err = altW.Close(); err != nil {
		return err
	}

	if mixedW != nil {
		for _, at := range msg.Attachments {
			w, err = mixedW.CreatePart(textproto.MIMEHeader{
				"Content-Type":              {at.ContentType},
				"Content-Transfer-Encoding": {"base64"},
				"Content-Disposition":       {"attachment; filename=" + at.Filename}})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, "%s\r\n", at.Content.String())
		}
		if err = mixedW.Close(); err != nil {
			return err
		}
	}

	svc.std.Println(body.String())
	return nil
}

func joinAddresses(addrs []mail.Address) string {
	toJoin := make([]string, 0, len(addrs))
	for _, a := range addrs {
		toJoin = append(toJoin, a.String())
	}
	return strings.Join(toJoin, ", ")
}
