package activity

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/google/uuid"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// MailHandler implements the `mail` node type.
//
// config fields:
//
//	action:       "send" (default) | "receive"
//	host:         SMTP host (required for send)
//	port:         int, default 587
//	security:     "TLS" | "STARTTLS" | "NONE", default STARTTLS
//	auth:         map — user, password (also accepted flat, so a basic_auth
//	              secret can supply them)
//	to, cc:       recipient lists
//	subject, body, content_type ("text/plain" default)
//
// Receive is a stub until IMAP support lands; it returns an empty message list.
type MailHandler struct{}

func (h *MailHandler) Name() string { return "mail" }

func (h *MailHandler) Execute(input, config map[string]interface{}, run *flow.ExecutionContext) (map[string]interface{}, error) {
	action, _ := config["action"].(string)
	switch action {
	case "", "send":
		return h.send(config)
	case "receive":
		return map[string]interface{}{
			"messages": []interface{}{},
			"note":     "imap receive not yet implemented",
		}, nil
	default:
		return nil, fmt.Errorf("mail activity: unknown action %q", action)
	}
}

func (h *MailHandler) send(config map[string]interface{}) (map[string]interface{}, error) {
	host, _ := config["host"].(string)
	if host == "" {
		return nil, fmt.Errorf("mail activity: missing required config field 'host'")
	}

	port := 587
	switch v := config["port"].(type) {
	case int:
		port = v
	case float64:
		port = int(v)
	}

	security := "STARTTLS"
	if s, ok := config["security"].(string); ok && s != "" {
		security = strings.ToUpper(s)
	}

	credential := func(key string) string {
		if auth, ok := config["auth"].(map[string]interface{}); ok {
			if v, ok := auth[key].(string); ok && v != "" {
				return v
			}
		}
		v, _ := config[key].(string)
		return v
	}
	from := credential("user")
	password := credential("password")

	to := addressList(config["to"])
	cc := addressList(config["cc"])
	recipients := append(append([]string{}, to...), cc...)
	if len(recipients) == 0 {
		return nil, fmt.Errorf("mail activity: no recipients in 'to' or 'cc'")
	}

	subject, _ := config["subject"].(string)
	body, _ := config["body"].(string)
	contentType, _ := config["content_type"].(string)
	if contentType == "" {
		contentType = "text/plain"
	}

	message := fmt.Sprintf("From: %s\r\nTo: %s\r\nCc: %s\r\nSubject: %s\r\nContent-Type: %s\r\n\r\n%s",
		from, strings.Join(to, ", "), strings.Join(cc, ", "), subject, contentType, body)

	var auth smtp.Auth
	if from != "" {
		auth = smtp.PlainAuth("", from, password, host)
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	if err := smtpDeliver(addr, host, security, auth, from, recipients, []byte(message)); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"sent":       true,
		"message_id": uuid.New().String(),
	}, nil
}

// smtpDeliver opens the transport demanded by security and runs the SMTP
// dialogue. TLS dials an encrypted socket up front; STARTTLS upgrades a plain
// one when the server advertises it; NONE stays plaintext.
func smtpDeliver(addr, host, security string, auth smtp.Auth, from string, recipients []string, message []byte) error {
	if security == "NONE" {
		if err := smtp.SendMail(addr, auth, from, recipients, message); err != nil {
			return fmt.Errorf("mail activity: send: %w", err)
		}
		return nil
	}

	tlsConfig := &tls.Config{ServerName: host}

	var (
		client *smtp.Client
		err    error
	)
	switch security {
	case "TLS":
		conn, dialErr := tls.Dial("tcp", addr, tlsConfig)
		if dialErr != nil {
			return fmt.Errorf("mail activity: tls dial: %w", dialErr)
		}
		client, err = smtp.NewClient(conn, host)
	default: // STARTTLS
		conn, dialErr := net.Dial("tcp", addr)
		if dialErr != nil {
			return fmt.Errorf("mail activity: dial: %w", dialErr)
		}
		client, err = smtp.NewClient(conn, host)
		if err == nil {
			if ok, _ := client.Extension("STARTTLS"); ok {
				err = client.StartTLS(tlsConfig)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("mail activity: smtp client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("mail activity: auth: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail activity: MAIL FROM: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("mail activity: RCPT TO %q: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("mail activity: DATA: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		return fmt.Errorf("mail activity: write body: %w", err)
	}
	return w.Close()
}

func addressList(raw interface{}) []string {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, entry := range list {
		if s, ok := entry.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
