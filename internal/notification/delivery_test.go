package notification

import (
	"context"
	"errors"
	"sync"
	"testing"

	"formation-review/internal/common/logger"
	"formation-review/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return m.SendEmailFunc(ctx, params, optFns...)
}

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, params, optFns...)
}

type stubUsers map[string]*models.User

func (s stubUsers) GetUser(_ context.Context, id string) (*models.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, errors.New("user not found")
}

type recordingRecorder struct {
	mu      sync.Mutex
	records []models.NotificationDelivery
}

func (r *recordingRecorder) RecordDelivery(_ context.Context, d models.NotificationDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, d)
	return nil
}

func okSES(sent *[]*ses.SendEmailInput) *MockSESService {
	return &MockSESService{
		SendEmailFunc: func(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			*sent = append(*sent, params)
			return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
		},
	}
}

func okSNS(sent *[]*sns.PublishInput) *MockSNSService {
	return &MockSNSService{
		PublishFunc: func(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
			*sent = append(*sent, params)
			return &sns.PublishOutput{MessageId: aws.String("sms-1")}, nil
		},
	}
}

var testUsers = stubUsers{
	"cand-1": {ID: "cand-1", FullName: "Amina <Diallo>", Email: "amina@example.com", Phone: "+221771234567"},
	"cand-2": {ID: "cand-2", FullName: "No Contact", Email: "not-an-email", Phone: "0612"},
}

func testDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		EmailEnabled: true,
		SMSEnabled:   true,
		FromEmail:    "noreply@formations.example.com",
		SMSSenderID:  "Review",
	}
}

// ==========================
// Tests
// ==========================

func TestDeliver_ApplicationNotificationIsEmailOnly(t *testing.T) {
	var emails []*ses.SendEmailInput
	var texts []*sns.PublishInput
	rec := &recordingRecorder{}

	d := NewDelivery(testDeliveryConfig(), okSES(&emails), okSNS(&texts), testUsers, rec, logger.NewTestLogger(t))
	results := d.Deliver(context.Background(), &models.Notification{
		ID:          "n-1",
		RecipientID: "cand-1",
		Type:        models.NotificationApplicationApproved,
		Title:       "Application Approved!",
		Message:     "Your application for Intro to Go has been approved",
	})

	require.Len(t, results, 1)
	assert.Equal(t, models.ChannelEmail, results[0].Channel)
	assert.Equal(t, models.DeliverySent, results[0].Status)
	assert.Len(t, texts, 0)
	require.Len(t, emails, 1)

	email := emails[0]
	assert.Equal(t, []string{"amina@example.com"}, email.Destination.ToAddresses)
	assert.Equal(t, "Application Approved!", *email.Message.Subject.Data)
	assert.Contains(t, *email.Message.Body.Text.Data, "Hello Amina <Diallo>,")
	assert.Contains(t, *email.Message.Body.Html.Data, "Hello Amina &lt;Diallo&gt;,")
	assert.Equal(t, "noreply@formations.example.com", *email.Source)

	require.Len(t, rec.records, 1)
	assert.Equal(t, "n-1", rec.records[0].NotificationID)
}

func TestDeliver_InterviewNotificationAlsoSendsSMS(t *testing.T) {
	var emails []*ses.SendEmailInput
	var texts []*sns.PublishInput

	d := NewDelivery(testDeliveryConfig(), okSES(&emails), okSNS(&texts), testUsers, nil, logger.NewNoOpLogger())
	results := d.Deliver(context.Background(), &models.Notification{
		ID:          "n-2",
		RecipientID: "cand-1",
		Type:        models.NotificationInterviewScheduled,
		Title:       "Interview Scheduled!",
		Message:     "An interview has been scheduled",
	})

	require.Len(t, results, 2)
	assert.Equal(t, models.DeliverySent, results[1].Status)
	require.Len(t, texts, 1)
	assert.Equal(t, "+221771234567", *texts[0].PhoneNumber)
	assert.Equal(t, "Interview Scheduled!: An interview has been scheduled", *texts[0].Message)
	assert.Equal(t, "Review", *texts[0].MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue)
}

func TestDeliver_InvalidContactIsSkipped(t *testing.T) {
	var emails []*ses.SendEmailInput
	var texts []*sns.PublishInput

	d := NewDelivery(testDeliveryConfig(), okSES(&emails), okSNS(&texts), testUsers, nil, logger.NewNoOpLogger())
	results := d.Deliver(context.Background(), &models.Notification{
		ID:          "n-3",
		RecipientID: "cand-2",
		Type:        models.NotificationInterviewCancelled,
		Title:       "Interview Cancelled",
	})

	require.Len(t, results, 2)
	assert.Equal(t, models.DeliverySkipped, results[0].Status)
	assert.Equal(t, models.DeliverySkipped, results[1].Status)
	assert.Empty(t, emails)
	assert.Empty(t, texts)
}

func TestDeliver_ProviderFailureIsRecordedNotReturned(t *testing.T) {
	failing := &MockSESService{
		SendEmailFunc: func(context.Context, *ses.SendEmailInput, ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			return nil, errors.New("ses throttled")
		},
	}
	rec := &recordingRecorder{}

	d := NewDelivery(testDeliveryConfig(), failing, nil, testUsers, rec, logger.NewNoOpLogger())
	results := d.Deliver(context.Background(), &models.Notification{
		ID:          "n-4",
		RecipientID: "cand-1",
		Type:        models.NotificationInterviewRescheduled,
	})

	require.Len(t, results, 2)
	assert.Equal(t, models.DeliveryFailed, results[0].Status)
	assert.Equal(t, "ses throttled", results[0].Error)
	assert.Equal(t, models.DeliveryDisabled, results[1].Status)
	assert.Len(t, rec.records, 2)
}

func TestDeliver_UnknownRecipientStillRecords(t *testing.T) {
	var emails []*ses.SendEmailInput
	d := NewDelivery(testDeliveryConfig(), okSES(&emails), nil, testUsers, nil, logger.NewNoOpLogger())

	results := d.Deliver(context.Background(), &models.Notification{ID: "n-5", RecipientID: "ghost", Type: models.NotificationApplicationRejected})

	require.Len(t, results, 1)
	assert.Equal(t, models.DeliverySkipped, results[0].Status)
}

func TestRenderTemplate(t *testing.T) {
	out := renderTemplate("{{title}}: {{message}} {{missing}}", map[string]string{
		"title":   "Interview Scheduled!",
		"message": "see you",
	})
	assert.Equal(t, "Interview Scheduled!: see you ", out)
}
