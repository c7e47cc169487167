package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"tmsmtm/audit"
	"tmsmtm/repository"
)

// Notifier is an audit sink that turns enrollment and unlock events into
// emails. Mail goes out in the background.
type Notifier struct {
	Repo   repository.MTMRepository
	Mailer Mailer
	Logger *zap.Logger

	wg sync.WaitGroup
}

func (n *Notifier) Record(ctx context.Context, e audit.Event) {
	if n == nil || n.Mailer == nil || n.Repo == nil {
		return
	}
	switch e.Action {
	case audit.EnrollmentCreated, audit.EnrollmentApproved:
	case audit.TaskUnlocked:
		// The enrollment mail already names the first task.
		if initial, _ := e.Details[audit.DetailInitial].(bool); initial {
			return
		}
	default:
		return
	}
	ctx = context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		msg, ok := n.compose(ctx, e)
		if !ok {
			return
		}
		if err := n.Mailer.Send(ctx, msg); err != nil && n.Logger != nil {
			n.Logger.Warn("[EMAIL] send failed",
				zap.String("action", e.Action),
				zap.String("to", msg.ToEmail),
				zap.Error(err))
		}
	}()
}

// Wait blocks until queued mail has been handed to the mailer.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) compose(ctx context.Context, e audit.Event) (Message, bool) {
	enrollment, err := n.Repo.GetEnrollment(ctx, e.EnrollmentID)
	if err != nil {
		n.lookupFailed(e, err)
		return Message{}, false
	}
	user, err := n.Repo.GetUser(ctx, enrollment.UserID)
	if err != nil {
		n.lookupFailed(e, err)
		return Message{}, false
	}
	model, err := n.Repo.GetModel(ctx, enrollment.ModelID)
	if err != nil {
		n.lookupFailed(e, err)
		return Message{}, false
	}

	if e.Action == audit.TaskUnlocked {
		task, err := n.Repo.GetTask(ctx, e.TaskID)
		if err != nil {
			n.lookupFailed(e, err)
			return Message{}, false
		}
		return taskUnlockedMessage(user.Name, user.Email, model.Title, task.Name), true
	}

	first := ""
	if task, err := n.Repo.FirstTask(ctx, model.ID); err == nil {
		first = task.Name
	}
	return enrollmentOpenedMessage(user.Name, user.Email, model.Title, first), true
}

func (n *Notifier) lookupFailed(e audit.Event, err error) {
	if n.Logger != nil {
		n.Logger.Debug("[EMAIL] skipped",
			zap.String("action", e.Action),
			zap.Uint("enrollment_id", e.EnrollmentID),
			zap.Error(err))
	}
}
