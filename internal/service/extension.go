package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tkaykim/moveit-sub006/internal/model"
	"github.com/tkaykim/moveit-sub006/internal/recurrence"
	"github.com/tkaykim/moveit-sub006/internal/repository"
)

// ExtensionInput is a holder's extension or pause request. An EXTENSION
// names a number of days; a PAUSE names an inclusive absence range.
type ExtensionInput struct {
	UserID          uint64                     `json:"-"`
	UserTicketID    uint64                     `json:"user_ticket_id"`
	Type            model.ExtensionRequestType `json:"request_type"`
	ExtensionDays   int                        `json:"extension_days,omitempty"`
	AbsentStartDate string                     `json:"absent_start_date,omitempty"`
	AbsentEndDate   string                     `json:"absent_end_date,omitempty"`
	Reason          string                     `json:"reason"`
}

func requestNotFound(id uint64) *Error {
	return newError(KindNotFound, ReasonRequestNotFound, "extension request %d not found", id)
}

func (in ExtensionInput) request() (*model.ExtensionRequest, error) {
	req := &model.ExtensionRequest{
		UserTicketID: in.UserTicketID,
		UserID:       in.UserID,
		Type:         in.Type,
		Reason:       strings.TrimSpace(in.Reason),
		Status:       model.ExtensionPending,
	}
	if req.UserTicketID == 0 || req.UserID == 0 {
		return nil, validation("user ticket is required")
	}
	if req.Reason == "" {
		return nil, validation("a reason is required")
	}
	switch in.Type {
	case model.ExtensionByDays:
		if in.ExtensionDays <= 0 {
			return nil, validation("extension_days must be positive, got %d", in.ExtensionDays)
		}
		days := in.ExtensionDays
		req.ExtensionDays = &days
	case model.ExtensionPause:
		start, err := recurrence.ParseDate(in.AbsentStartDate)
		if err != nil {
			return nil, wrapValidation(err, "invalid absent_start_date")
		}
		end, err := recurrence.ParseDate(in.AbsentEndDate)
		if err != nil {
			return nil, wrapValidation(err, "invalid absent_end_date")
		}
		if end.Before(start) {
			return nil, validation("absence ends before it starts")
		}
		req.AbsentStartDate, req.AbsentEndDate = &start, &end
	default:
		return nil, validation("request_type must be EXTENSION or PAUSE, got %q", in.Type)
	}
	return req, nil
}

// RequestExtension files a PENDING request against one of the holder's
// tickets. The requested days are checked against the academy's maximum
// extension now and again on approval.
func (l *EntitlementLedger) RequestExtension(ctx context.Context, in ExtensionInput) (*model.ExtensionRequest, error) {
	req, err := in.request()
	if err != nil {
		return nil, err
	}
	ut, err := l.Get(ctx, req.UserTicketID)
	if err != nil {
		return nil, err
	}
	if ut.UserID != req.UserID {
		return nil, ticketNotFound(req.UserTicketID)
	}
	switch ut.Status {
	case model.UserTicketCancelled:
		return nil, newError(KindEntitlement, ReasonCancelled, "ticket %d is cancelled", ut.ID)
	case model.UserTicketExpired:
		return nil, newError(KindEntitlement, ReasonExpired, "ticket %d has expired", ut.ID)
	}
	if ut.ExpiryDate == nil {
		return nil, validation("ticket %d has no expiry date to extend", ut.ID)
	}
	if err := l.checkExtensionDays(ctx, ut.AcademyID, req.Days()); err != nil {
		return nil, err
	}

	req.AcademyID = ut.AcademyID
	if err := l.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create extension request: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"request_id":     req.ID,
		"user_ticket_id": ut.ID,
		"type":           req.Type,
		"days":           req.Days(),
	}).Info("extension requested")
	return req, nil
}

// GetExtensionRequest returns a request by id.
func (l *EntitlementLedger) GetExtensionRequest(ctx context.Context, id uint64) (*model.ExtensionRequest, error) {
	req, err := l.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, requestNotFound(id)
		}
		return nil, fmt.Errorf("get extension request: %w", err)
	}
	return req, nil
}

// ListExtensionRequests returns an academy's requests, optionally only
// those in one status.
func (l *EntitlementLedger) ListExtensionRequests(ctx context.Context, academyID uint64, status model.ExtensionRequestStatus) ([]model.ExtensionRequest, error) {
	return l.requests.ListByAcademy(ctx, academyID, status)
}

// ListMyExtensionRequests returns the requests a holder has filed.
func (l *EntitlementLedger) ListMyExtensionRequests(ctx context.Context, userID uint64) ([]model.ExtensionRequest, error) {
	return l.requests.ListByUser(ctx, userID)
}

func (l *EntitlementLedger) decide(ctx context.Context, id uint64, status model.ExtensionRequestStatus, rejectReason *string, adminID uint64) error {
	err := l.requests.Decide(ctx, id, status, rejectReason, adminID, l.settings.Now())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return requestNotFound(id)
	case errors.Is(err, repository.ErrNoChange):
		req, gerr := l.GetExtensionRequest(ctx, id)
		if gerr != nil {
			return gerr
		}
		return newError(KindValidation, ReasonInvalidTransition, "extension request %d is %s", id, req.Status)
	}
	return fmt.Errorf("decide extension request: %w", err)
}

// ApproveExtension approves a PENDING request and pushes the ticket's
// expiry back by the requested days. When the ticket cannot be extended the
// request goes back to PENDING and the extension error is returned.
func (l *EntitlementLedger) ApproveExtension(ctx context.Context, id, adminID uint64) (*model.ExtensionRequest, *model.UserTicket, error) {
	req, err := l.GetExtensionRequest(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := l.decide(ctx, id, model.ExtensionApproved, nil, adminID); err != nil {
		return nil, nil, err
	}
	ut, err := l.Extend(ctx, ExtendRequest{UserTicketID: req.UserTicketID, ExtendByDays: req.Days()})
	if err != nil {
		if rerr := l.requests.Reopen(context.WithoutCancel(ctx), id); rerr != nil {
			logrus.WithError(rerr).WithField("request_id", id).Error("compensation: reopen extension request failed")
		}
		return nil, nil, err
	}
	logrus.WithFields(logrus.Fields{
		"request_id":     id,
		"user_ticket_id": ut.ID,
		"days":           req.Days(),
	}).Info("extension approved")
	req, err = l.GetExtensionRequest(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return req, ut, nil
}

// RejectExtension rejects a PENDING request. A reason is required.
func (l *EntitlementLedger) RejectExtension(ctx context.Context, id, adminID uint64, reason string) (*model.ExtensionRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validation("a reject reason is required")
	}
	if err := l.decide(ctx, id, model.ExtensionRejected, &reason, adminID); err != nil {
		return nil, err
	}
	logrus.WithField("request_id", id).Info("extension rejected")
	return l.GetExtensionRequest(ctx, id)
}
