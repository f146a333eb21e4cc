// Package booking implements the meeting booking and call scheduling
// flows: viewers of a published CV can request a meeting with its
// owner, and support visitors can request a phone call.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/paywall/pkg/docstore"
	"github.com/platinummonkey/paywall/pkg/httputil"
	"github.com/platinummonkey/paywall/pkg/notify"
	"github.com/platinummonkey/paywall/pkg/observability"
)

// Collections used by the booking flows.
const (
	CollectionJobs         = "jobs"
	CollectionMeetings     = "meetings"
	CollectionCallRequests = "callRequests"
)

// Meeting duration bounds in minutes.
const (
	MinDurationMinutes = 15
	MaxDurationMinutes = 180
)

// BookMeetingRequest asks for a meeting with the owner of a CV job.
type BookMeetingRequest struct {
	JobID         string `json:"jobId"`
	Duration      int    `json:"duration"`
	AttendeeEmail string `json:"attendeeEmail"`
	AttendeeName  string `json:"attendeeName,omitempty"`
	MeetingType   string `json:"meetingType,omitempty"`
}

// BookMeetingResponse reports the stored meeting request.
type BookMeetingResponse struct {
	MeetingID string `json:"meetingId"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// RequestCallRequest asks support for a scheduled phone call.
type RequestCallRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Date    string `json:"date"`
	Time    string `json:"time"`
	Message string `json:"message,omitempty"`
}

// RequestCallResponse acknowledges a call request.
type RequestCallResponse struct {
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

// Service implements the booking operations.
type Service struct {
	store        docstore.Store
	sender       notify.Sender
	adminAddress string
	logger       *observability.Logger
	now          func() time.Time
	newID        func() string
}

// NewService creates the booking service.
func NewService(store docstore.Store, sender notify.Sender, adminAddress string, logger *observability.Logger) *Service {
	return &Service{
		store:        store,
		sender:       sender,
		adminAddress: adminAddress,
		logger:       logger,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// BookMeeting validates and stores a meeting request against the
// caller's own CV job, then notifies both sides by email. Email
// failures are logged but never roll back the stored booking.
func (s *Service) BookMeeting(ctx context.Context, callerUID string, req *BookMeetingRequest) (*BookMeetingResponse, error) {
	switch {
	case req.JobID == "":
		return nil, httputil.NewCallError(httputil.CodeInvalidArgument, "jobId is required")
	case req.Duration < MinDurationMinutes || req.Duration > MaxDurationMinutes:
		return nil, httputil.Errorf(httputil.CodeInvalidArgument, "duration must be between %d and %d minutes", MinDurationMinutes, MaxDurationMinutes)
	case req.AttendeeEmail == "" || !httputil.ValidEmail(req.AttendeeEmail):
		return nil, httputil.NewCallError(httputil.CodeInvalidArgument, "attendeeEmail is not valid")
	}

	job, err := s.store.Get(ctx, CollectionJobs, req.JobID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, httputil.NewCallError(httputil.CodeNotFound, "job not found")
	}
	if err != nil {
		return nil, httputil.Internal("job lookup failed", err)
	}

	if job.String("userId") != callerUID {
		return nil, httputil.NewCallError(httputil.CodePermissionDenied, "callers may only book meetings for their own CV")
	}

	parsed := job.Map("parsedData")
	if parsed == nil {
		return nil, httputil.NewCallError(httputil.CodeFailedPrecondition, "CV data not found")
	}
	professionalName, professionalEmail := professionalContact(parsed)

	attendeeName := req.AttendeeName
	if attendeeName == "" {
		attendeeName = req.AttendeeEmail
	}

	meetingID := s.newID()
	err = s.store.Set(ctx, CollectionMeetings, meetingID, map[string]interface{}{
		"jobId":             req.JobID,
		"attendeeEmail":     req.AttendeeEmail,
		"attendeeName":      attendeeName,
		"professionalName":  professionalName,
		"professionalEmail": professionalEmail,
		"duration":          req.Duration,
		"meetingType":       req.MeetingType,
		"status":            "pending",
		"createdAt":         s.now().UTC(),
	})
	if err != nil {
		return nil, httputil.Internal("storing meeting request failed", err)
	}

	s.sendOrLog(ctx, notify.Message{
		Kind:    "meeting_admin",
		To:      []string{s.adminAddress},
		ReplyTo: req.AttendeeEmail,
		Subject: "New Meeting Request - CVPlus",
		Body: fmt.Sprintf("New meeting request for %s:\n\nAttendee: %s <%s>\nDuration: %d minutes\nMeeting ID: %s\n",
			professionalName, attendeeName, req.AttendeeEmail, req.Duration, meetingID),
	})
	s.sendOrLog(ctx, notify.Message{
		Kind:    "meeting_confirmation",
		To:      []string{req.AttendeeEmail},
		Subject: "Meeting Request Received - CVPlus",
		Body: fmt.Sprintf("Hi %s,\n\nYour meeting request with %s (%d minutes) has been received. You will be contacted to confirm a time.\n\nBest regards,\nCVPlus Team\n",
			attendeeName, professionalName, req.Duration),
	})

	s.logger.WithFields(map[string]interface{}{
		"meeting_id": meetingID,
		"job_id":     req.JobID,
	}).Info("meeting request created")

	return &BookMeetingResponse{
		MeetingID: meetingID,
		Status:    "pending",
		Message:   "Meeting request created successfully. The professional will be notified.",
	}, nil
}

// RequestCall records a call scheduling request and notifies the admin
// address, with a confirmation back to the requester.
func (s *Service) RequestCall(ctx context.Context, req *RequestCallRequest) (*RequestCallResponse, error) {
	switch {
	case req.Name == "":
		return nil, httputil.NewCallError(httputil.CodeInvalidArgument, "name is required")
	case req.Email == "" || !httputil.ValidEmail(req.Email):
		return nil, httputil.NewCallError(httputil.CodeInvalidArgument, "email is not valid")
	case req.Phone == "":
		return nil, httputil.NewCallError(httputil.CodeInvalidArgument, "phone is required")
	case req.Date == "":
		return nil, httputil.NewCallError(httputil.CodeInvalidArgument, "date is required")
	case req.Time == "":
		return nil, httputil.NewCallError(httputil.CodeInvalidArgument, "time is required")
	}

	now := s.now().UTC()
	requestID := s.newID()
	err := s.store.Set(ctx, CollectionCallRequests, requestID, map[string]interface{}{
		"name":      req.Name,
		"email":     req.Email,
		"phone":     req.Phone,
		"date":      req.Date,
		"time":      req.Time,
		"message":   req.Message,
		"status":    "pending",
		"createdAt": now,
	})
	if err != nil {
		return nil, httputil.Internal("storing call request failed", err)
	}

	_, err = s.sender.Send(ctx, notify.Message{
		Kind:    "call_admin",
		To:      []string{s.adminAddress},
		ReplyTo: req.Email,
		Subject: "Call Scheduling Request - CVPlus",
		Body: fmt.Sprintf("New call scheduling request:\n\nName: %s\nEmail: %s\nPhone: %s\nDate: %s\nTime: %s\n\nMessage: %s\n",
			req.Name, req.Email, req.Phone, req.Date, req.Time, orDefault(req.Message, "No additional message provided")),
	})
	if err != nil {
		// The admin notification is the point of this operation, so
		// delivery failure is surfaced to the caller.
		return nil, httputil.Internal("sending scheduling request failed", err)
	}

	s.sendOrLog(ctx, notify.Message{
		Kind:    "call_confirmation",
		To:      []string{req.Email},
		Subject: "Call Scheduling Request Received - CVPlus",
		Body: fmt.Sprintf("Hi %s,\n\nWe received your request for a call on %s at %s. Our team will contact you within 24 hours to confirm.\n\nBest regards,\nCVPlus Support Team\n",
			req.Name, req.Date, req.Time),
	})

	return &RequestCallResponse{
		RequestID: requestID,
		Timestamp: now,
	}, nil
}

func (s *Service) sendOrLog(ctx context.Context, msg notify.Message) {
	if _, err := s.sender.Send(ctx, msg); err != nil {
		s.logger.WithError(err).WithField("kind", msg.Kind).Warn("email delivery failed")
	}
}

func professionalContact(parsed map[string]interface{}) (name, email string) {
	name = "Professional"
	info, _ := parsed["personalInfo"].(map[string]interface{})
	if info == nil {
		info, _ = parsed["personalInformation"].(map[string]interface{})
	}
	if info != nil {
		if n, ok := info["name"].(string); ok && n != "" {
			name = n
		}
		if e, ok := info["email"].(string); ok {
			email = e
		}
	}
	return name, email
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
