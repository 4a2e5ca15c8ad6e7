package workflow

import (
	"time"

	"github.com/dukex/followup/pkg/models"
)

const (
	KeyApplicationIncomplete = "application-incomplete"
	KeyReferrerInactive      = "referrer-inactive"
)

func disabled() *bool {
	v := false

	return &v
}

func statusIs(field, value string) []models.Condition {
	return []models.Condition{{
		Field:     field,
		Operator:  models.OperatorEquals,
		Value:     value,
		ValueType: models.ValueTypeString,
	}}
}

// PredefinedWorkflows returns fresh copies of the built-in follow-up workflows, paused.
// Each call allocates new values; callers may mutate the result.
func PredefinedWorkflows(now time.Time) []*models.WorkflowDefinition {
	return []*models.WorkflowDefinition{
		applicationIncomplete(now),
		referrerInactive(now),
	}
}

// applicationIncomplete nudges a candidate at 24h, 72h and 7 days after leaving an application
// unfinished, then marks it abandoned. Any status change ends the run at the next check.
func applicationIncomplete(now time.Time) *models.WorkflowDefinition {
	stillStarted := statusIs("application.status", "started")

	return &models.WorkflowDefinition{
		ID:                  "wf-" + KeyApplicationIncomplete,
		Key:                 KeyApplicationIncomplete,
		Name:                "Incomplete application follow-up",
		Description:         "Reminds candidates to finish a started application and abandons it after a week.",
		TriggerType:         models.TriggerTypeEntityIncomplete,
		EntityType:          models.EntityTypeApplication,
		EntryConditions:     stillStarted,
		EntryConditionLogic: models.LogicAnd,
		Settings: models.WorkflowSettings{
			MaxExecutionsPerEntity: 3,
			CooldownHours:          168,
			AllowReEntry:           true,
		},
		RetryPolicy: &models.RetryPolicy{
			MaxRetries:        3,
			RetryDelayMinutes: 15,
			Strategy:          models.BackoffExponential,
			MaxDelayMinutes:   240,
		},
		Status:    models.WorkflowStatusPaused,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		Actions: []models.Action{
			{ID: "wait-24h", Name: "Wait one day", Spec: models.Delay{Hours: 24}},
			{ID: "check-24h", Name: "Still started after one day", Spec: models.Branch{
				Conditions: stillStarted,
				Logic:      models.LogicAnd,
				TrueActions: []models.Action{
					{ID: "email-first-reminder", Name: "First reminder", Spec: models.SendEmail{Message: models.Message{
						TemplateRef:     "application_reminder",
						SubjectTemplate: "Finish your application for {{job.title}}",
						BodyTemplate:    "<p>Hi {{user.name}},</p><p>Your application for <b>{{job.title}}</b> at {{company.name}} is almost done.</p>",
						RecipientPath:   "user.email",
					}}},
					{ID: "wait-72h", Name: "Wait two more days", Spec: models.Delay{Hours: 48}},
					{ID: "check-72h", Name: "Still started after three days", Spec: models.Branch{
						Conditions: stillStarted,
						Logic:      models.LogicAnd,
						TrueActions: []models.Action{
							{ID: "email-second-reminder", Name: "Second reminder", Spec: models.SendEmail{Message: models.Message{
								SubjectTemplate: "{{job.title}} at {{company.name}} is still open",
								BodyTemplate:    "<p>Hi {{user.name}}, there is still time to apply for {{job.title}}.</p>",
								RecipientPath:   "user.email",
							}}},
							{ID: "chat-reminder", Name: "Chat reminder", StopOnFailure: disabled(), Spec: models.SendChatMessage{
								Message:    models.Message{TemplateRef: "application_reminder", RecipientPath: "user.phone"},
								Parameters: []string{"{{user.name}}", "{{job.title}}"},
							}},
							{ID: "wait-7d", Name: "Wait until one week", Spec: models.Delay{Hours: 96}},
							{ID: "check-7d", Name: "Still started after one week", Spec: models.Branch{
								Conditions: stillStarted,
								Logic:      models.LogicAnd,
								TrueActions: []models.Action{
									{ID: "mark-abandoned", Name: "Mark abandoned", Spec: models.UpdateStatus{
										EntityType:  models.EntityTypeApplication,
										StatusField: "status",
										StatusValue: "abandoned",
									}},
									{ID: "notify-abandoned", Name: "Notify candidate", StopOnFailure: disabled(), Spec: models.SendNotification{
										Message: models.Message{
											SubjectTemplate: "Application closed",
											BodyTemplate:    "Your application for {{job.title}} was closed after a week without activity.",
											RecipientPath:   "user.id",
										},
										NotificationType: "application_abandoned",
									}},
								},
							}},
						},
					}},
				},
			}},
		},
	}
}

// referrerInactive re-engages referrers who stopped submitting referrals.
func referrerInactive(now time.Time) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:              "wf-" + KeyReferrerInactive,
		Key:             KeyReferrerInactive,
		Name:            "Inactive referrer re-engagement",
		Description:     "Notifies and emails referrers with no activity, then flags them inactive.",
		TriggerType:     models.TriggerTypeEntityInactive,
		EntityType:      models.EntityTypeUser,
		EntryConditions: []models.Condition{
			{Field: "user.role", Operator: models.OperatorEquals, Value: "referrer", ValueType: models.ValueTypeString},
			{Field: "user.status", Operator: models.OperatorNotEquals, Value: "inactive", ValueType: models.ValueTypeString},
		},
		EntryConditionLogic: models.LogicAnd,
		Settings: models.WorkflowSettings{
			MaxExecutionsPerEntity: 0,
			CooldownHours:          720,
			AllowReEntry:           true,
		},
		Status:    models.WorkflowStatusPaused,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		Actions: []models.Action{
			{ID: "notify-open-jobs", Name: "Open jobs notification", StopOnFailure: disabled(), Spec: models.SendNotification{
				Message: models.Message{
					SubjectTemplate: "New jobs to refer",
					BodyTemplate:    "Hi {{user.name}}, new positions are waiting for your referrals.",
					RecipientPath:   "user.id",
				},
				NotificationType: "referrer_reengagement",
			}},
			{ID: "wait-3d", Name: "Wait three days", Spec: models.Delay{Hours: 72}},
			{ID: "check-activity", Name: "Still no referrals", Spec: models.Branch{
				Conditions: []models.Condition{
					{Field: "input.referralsSinceTrigger", Operator: models.OperatorNotExists},
				},
				TrueActions: []models.Action{
					{ID: "email-referrer", Name: "Re-engagement email", Spec: models.SendEmail{Message: models.Message{
						SubjectTemplate: "We miss your referrals, {{user.name}}",
						BodyTemplate:    "<p>Every hire you refer counts. Check the open positions this week.</p>",
						RecipientPath:   "user.email",
					}}},
					{ID: "wait-7d", Name: "Wait one week", Spec: models.Delay{Hours: 168}},
					{ID: "flag-inactive", Name: "Flag inactive", Spec: models.UpdateStatus{
						EntityType:  models.EntityTypeUser,
						StatusField: "status",
						StatusValue: "inactive",
					}},
				},
			}},
		},
	}
}
