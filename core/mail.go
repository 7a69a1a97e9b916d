package core

import (
	"bytes"
	"encoding/base64"
	"fmt"
	htmltmpl "html/template"
	"io"
	"io/fs"
	"net/http"
	"net/mail"
	"path"
	"strings"
	"sync"
	texttmpl "text/template"

	"github.com/pkg/errors"

	appfs "github.com/trezcool/bhorti/fs"
)

const emailTemplatesDir = "assets/templates/email"

var (
	templates  tmplCache
	tmplMu     sync.RWMutex
	strictTmpl bool
)

type (
	tmplCacheEntry struct {
		text *texttmpl.Template
		html *htmltmpl.Template
	}
	tmplCache map[string]*tmplCacheEntry // {name: entry}

	Attachment struct {
		Content     *bytes.Buffer // base64 encoded
		ContentType string
		Filename    string
	}

	EmailMessage struct {
		To          []mail.Address
		Cc          []mail.Address
		Bcc         []mail.Address
		Subject     string
		BodyStr     string // simple text/plain, non-templated content
		Attachments []Attachment

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	ContextData struct {
		AppName         string
		FrontendBaseURL string
		Data            interface{}
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

func (m *EmailMessage) getTemplate() (*tmplCacheEntry, bool) {
	tmplMu.RLock()
	defer tmplMu.RUnlock()
	entry, ok := templates[m.TemplateName]
	return entry, ok
}

// Render renders the text & html contents of templated messages. Templates must have been parsed.
func (m *EmailMessage) Render(conf *Config) error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
	}
	if m.TemplateName == "" {
		return nil
	}

	entry, ok := m.getTemplate()
	if !ok {
		return errors.Errorf("email template %q not found", m.TemplateName)
	}
	data := ContextData{AppName: conf.AppName, FrontendBaseURL: conf.FrontendBaseURL, Data: m.TemplateData}

	if entry.text != nil && m.BodyStr == "" {
		var buff bytes.Buffer
		if err := entry.text.Execute(&buff, data); err != nil {
			return errors.Wrap(err, "rendering text template")
		}
		m.TextContent = buff.String()
	}
	if entry.html != nil {
		var buff bytes.Buffer
		if err := entry.html.Execute(&buff, data); err != nil {
			return errors.Wrap(err, "rendering html template")
		}
		m.HTMLContent = buff.String()
	}
	return nil
}

// Attach base64 encodes the content of `r` and attaches it to the message.
func (m *EmailMessage) Attach(r io.Reader, filename string, ct ...string) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	at := Attachment{Filename: filename, Content: new(bytes.Buffer)}

	encoder := base64.NewEncoder(base64.StdEncoding, at.Content)
	if _, err := encoder.Write(content); err != nil {
		return err
	}
	if err := encoder.Close(); err != nil {
		return err
	}

	if len(ct) > 0 {
		at.ContentType = ct[0]
	} else {
		at.ContentType = http.DetectContentType(content)
	}
	m.Attachments = append(m.Attachments, at)
	return nil
}

func (m *EmailMessage) HasRecipients() bool  { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool     { return (m.TextContent != "") || (m.HTMLContent != "") }
func (m *EmailMessage) HasAttachments() bool { return len(m.Attachments) > 0 }

// ParseEmailTemplates parses the embedded email templates.
// `<name>.txt` and `<name>.gohtml` are both wrapped into their `_base` layout.
func ParseEmailTemplates(conf *Config, logger Logger) {
	tmplMu.Lock()
	defer tmplMu.Unlock()

	strictTmpl = conf.Debug || conf.TestMode
	templates = make(tmplCache)

	entries, err := fs.ReadDir(appfs.FS, emailTemplatesDir)
	if err != nil {
		logger.Error(fmt.Sprintf("reading email templates: %v", err), err)
		return
	}

	for _, de := range entries {
		fname := de.Name()
		ext := path.Ext(fname)
		if de.IsDir() || strings.HasPrefix(fname, "_") || !(ext == ".txt" || ext == ".gohtml") {
			continue
		}
		name := strings.TrimSuffix(fname, ext)
		entry, ok := templates[name]
		if !ok {
			entry = new(tmplCacheEntry)
			templates[name] = entry
		}

		fp := path.Join(emailTemplatesDir, fname)
		if ext == ".txt" {
			tmpl, err := texttmpl.ParseFS(appfs.FS, path.Join(emailTemplatesDir, "_base.txt"), fp)
			if err != nil {
				logger.Error(fmt.Sprintf("parsing email template %s: %v", fname, err), err)
				continue
			}
			if strictTmpl {
				tmpl = tmpl.Option("missingkey=error")
			}
			entry.text = tmpl
		} else {
			tmpl, err := htmltmpl.ParseFS(appfs.FS, path.Join(emailTemplatesDir, "_base.gohtml"), fp)
			if err != nil {
				logger.Error(fmt.Sprintf("parsing email template %s: %v", fname, err), err)
				continue
			}
			if strictTmpl {
				tmpl = tmpl.Option("missingkey=error")
			}
			entry.html = tmpl
		}
	}
}
