package emailtransport

import (
	"github.com/synapse-project/transport-core/adapter/outbound/codec"
	"github.com/synapse-project/transport-core/domain/model"
	"github.com/synapse-project/transport-core/domain/port/outbound"
	"github.com/synapse-project/transport-core/internal/txconfig"
)

// Factory builds Email transports from stringly-keyed config maps:
// smtp_host, smtp_port, smtp_user, smtp_password, smtp_tls, imap_host,
// imap_port, imap_user, imap_password, imap_ssl, poll_interval_ms,
// max_message_size.
type Factory struct {
	Codec outbound.MessageCodec
}

func (f *Factory) Kind() model.TransportKind { return model.Email }

func (f *Factory) New(cfg map[string]string, logger outbound.Logger) (outbound.Transport, error) {
	smtpHost := txconfig.String(cfg, "smtp_host", "")
	if smtpHost == "" {
		return nil, &model.InvalidConfigError{Field: "smtp_host", Reason: "required"}
	}
	smtpPort, err := txconfig.Int(cfg, "smtp_port", 587)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "smtp_port", Reason: err.Error()}
	}
	smtpTLS, err := txconfig.Bool(cfg, "smtp_tls", false)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "smtp_tls", Reason: err.Error()}
	}

	imapHost := txconfig.String(cfg, "imap_host", "")
	if imapHost == "" {
		return nil, &model.InvalidConfigError{Field: "imap_host", Reason: "required"}
	}
	imapPort, err := txconfig.Int(cfg, "imap_port", 993)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "imap_port", Reason: err.Error()}
	}
	imapSSL, err := txconfig.Bool(cfg, "imap_ssl", true)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "imap_ssl", Reason: err.Error()}
	}

	pollInterval, err := txconfig.Millis(cfg, "poll_interval_ms", 30000)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "poll_interval_ms", Reason: err.Error()}
	}
	if pollInterval <= 0 {
		return nil, &model.InvalidConfigError{Field: "poll_interval_ms", Reason: "must be positive"}
	}

	maxSize, err := txconfig.Int64(cfg, "max_message_size", 10<<20)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "max_message_size", Reason: err.Error()}
	}
	if maxSize <= 0 {
		return nil, &model.InvalidConfigError{Field: "max_message_size", Reason: "must be positive"}
	}

	c := f.Codec
	if c == nil {
		c = codec.JSON{}
	}

	return New(Config{
		SMTPHost:       smtpHost,
		SMTPPort:       smtpPort,
		SMTPUser:       txconfig.String(cfg, "smtp_user", ""),
		SMTPPassword:   txconfig.String(cfg, "smtp_password", ""),
		SMTPTLS:        smtpTLS,
		IMAPHost:       imapHost,
		IMAPPort:       imapPort,
		IMAPUser:       txconfig.String(cfg, "imap_user", ""),
		IMAPPassword:   txconfig.String(cfg, "imap_password", ""),
		IMAPSSL:        imapSSL,
		PollInterval:   pollInterval,
		MaxMessageSize: maxSize,
	}, logger, c), nil
}
