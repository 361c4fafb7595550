package notification

import (
	"context"
	"html"
	"strings"
	"time"

	"formation-review/internal/common/logger"
	"formation-review/internal/common/metrics"
	"formation-review/internal/common/validation"
	"formation-review/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"
)

type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// RecipientLookup resolves contact details of a notification recipient.
type RecipientLookup interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, d models.NotificationDelivery) error
}

type DeliveryConfig struct {
	EmailEnabled bool
	SMSEnabled   bool
	FromEmail    string
	SMSSenderID  string
}

const (
	emailTextTemplate = "Hello {{recipientName}},\n\n{{message}}\n\nFormation Review"
	emailHTMLTemplate = "<p>Hello {{recipientName}},</p><p>{{message}}</p><p>Formation Review</p>"
	smsTemplate       = "{{title}}: {{message}}"
)

// Delivery sends the email and SMS side channels of a notification.
type Delivery struct {
	config   DeliveryConfig
	ses      SESService
	sns      SNSService
	users    RecipientLookup
	recorder DeliveryRecorder
	logger   logger.Logger
}

func NewDelivery(cfg DeliveryConfig, sesClient SESService, snsClient SNSService, users RecipientLookup, recorder DeliveryRecorder, log logger.Logger) *Delivery {
	if sesClient == nil {
		cfg.EmailEnabled = false
	}
	if snsClient == nil {
		cfg.SMSEnabled = false
	}
	return &Delivery{
		config:   cfg,
		ses:      sesClient,
		sns:      snsClient,
		users:    users,
		recorder: recorder,
		logger:   log.WithFields(map[string]interface{}{"component": "notification-delivery"}),
	}
}

// Deliver attempts email for every notification and SMS for interview
// notifications. Failures are recorded and logged, never returned.
func (d *Delivery) Deliver(ctx context.Context, n *models.Notification) []models.NotificationDelivery {
	user, err := d.users.GetUser(ctx, n.RecipientID)
	if err != nil {
		d.logger.Warn("recipient not found", map[string]interface{}{
			"recipientId":    n.RecipientID,
			"notificationId": n.ID,
			"error":          err,
		})
		user = &models.User{ID: n.RecipientID}
	}

	data := map[string]string{
		"recipientName": user.DisplayName(),
		"title":         n.Title,
		"message":       n.Message,
	}

	results := []models.NotificationDelivery{d.deliverEmail(ctx, n, user, data)}
	if n.Type.IsInterview() {
		results = append(results, d.deliverSMS(ctx, n, user, data))
	}

	for _, r := range results {
		metrics.NotificationDeliveries.WithLabelValues(string(r.Channel), string(r.Status)).Inc()
		if d.recorder == nil {
			continue
		}
		if err := d.recorder.RecordDelivery(ctx, r); err != nil {
			d.logger.Warn("failed to record delivery", map[string]interface{}{
				"notificationId": n.ID,
				"channel":        string(r.Channel),
				"error":          err,
			})
		}
	}
	return results
}

func (d *Delivery) deliverEmail(ctx context.Context, n *models.Notification, user *models.User, data map[string]string) models.NotificationDelivery {
	result := newDeliveryResult(n.ID, models.ChannelEmail)

	switch {
	case !d.config.EmailEnabled:
		result.Status = models.DeliveryDisabled
	case !validation.ValidateEmail(user.Email):
		result.Status = models.DeliverySkipped
	default:
		if err := d.sendEmail(ctx, user.Email, n.Title, data); err != nil {
			d.logger.Error("email send failed", map[string]interface{}{
				"notificationId": n.ID,
				"error":          err,
			})
			result.Status = models.DeliveryFailed
			result.Error = err.Error()
		} else {
			result.Status = models.DeliverySent
		}
	}
	return result
}

func (d *Delivery) deliverSMS(ctx context.Context, n *models.Notification, user *models.User, data map[string]string) models.NotificationDelivery {
	result := newDeliveryResult(n.ID, models.ChannelSMS)

	switch {
	case !d.config.SMSEnabled:
		result.Status = models.DeliveryDisabled
	case !validation.ValidatePhone(user.Phone):
		result.Status = models.DeliverySkipped
	default:
		if err := d.sendSMS(ctx, user.Phone, renderTemplate(smsTemplate, data)); err != nil {
			d.logger.Error("SMS send failed", map[string]interface{}{
				"notificationId": n.ID,
				"error":          err,
			})
			result.Status = models.DeliveryFailed
			result.Error = err.Error()
		} else {
			result.Status = models.DeliverySent
		}
	}
	return result
}

func newDeliveryResult(notificationID string, channel models.DeliveryChannel) models.NotificationDelivery {
	return models.NotificationDelivery{
		ID:             uuid.New().String(),
		NotificationID: notificationID,
		Channel:        channel,
		AttemptedAt:    time.Now().UTC(),
	}
}

func (d *Delivery) sendEmail(ctx context.Context, to, subject string, data map[string]string) error {
	escaped := make(map[string]string, len(data))
	for k, v := range data {
		escaped[k] = html.EscapeString(v)
	}

	_, err := d.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(renderTemplate(emailTextTemplate, data))},
				Html: &types.Content{Data: aws.String(renderTemplate(emailHTMLTemplate, escaped))},
			},
		},
		Source: aws.String(d.config.FromEmail),
	})
	return err
}

func (d *Delivery) sendSMS(ctx context.Context, to, message string) error {
	input := &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(message),
	}
	if d.config.SMSSenderID != "" {
		input.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(d.config.SMSSenderID),
			},
		}
	}
	_, err := d.sns.Publish(ctx, input)
	return err
}

// renderTemplate substitutes {{key}} placeholders and drops unknown ones.
func renderTemplate(tmpl string, data map[string]string) string {
	result := tmpl
	for k, v := range data {
		result = strings.ReplaceAll(result, "{{"+k+"}}", v)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		end += start + 2
		result = result[:start] + result[end:]
	}
	return result
}
