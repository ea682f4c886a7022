// Package crmsync pushes qualified leads into Salesforce so the sales
// team works engine output from their own pipeline views.
package crmsync

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/pkg/salesforce"
)

// externalIDField is the custom field on the Salesforce Lead object that
// carries the engine's lead ID, making the sync idempotent.
const externalIDField = "Engine_Lead_Id__c"

// Result summarizes one sync pass.
type Result struct {
	Candidates int `json:"candidates"`
	Synced     int `json:"synced"`
	Failed     int `json:"failed"`
}

// Syncer upserts engine leads into Salesforce. Per-record rejections are
// logged and counted, never fatal; a pass fails only when the API itself
// is unreachable.
type Syncer struct {
	client salesforce.Client
	store  store.Store
	log    *zap.Logger
}

// New creates a Syncer.
func New(client salesforce.Client, st store.Store) *Syncer {
	return &Syncer{
		client: client,
		store:  st,
		log:    zap.L().With(zap.String("component", "crmsync")),
	}
}

// SyncCampaign upserts the campaign's qualified and converted leads.
func (s *Syncer) SyncCampaign(ctx context.Context, campaignID string) (*Result, error) {
	var leads []model.Lead
	for _, status := range []model.LeadStatus{model.LeadStatusQualified, model.LeadStatusConverted} {
		batch, err := s.store.ListLeads(ctx, store.LeadFilter{
			CampaignID: campaignID,
			Status:     status,
		})
		if err != nil {
			return nil, err
		}
		leads = append(leads, batch...)
	}

	result := &Result{Candidates: len(leads)}
	if len(leads) == 0 {
		s.log.Info("no qualified leads to sync", zap.String("campaign_id", campaignID))
		return result, nil
	}

	records := make([]map[string]any, len(leads))
	for i := range leads {
		records[i] = sfRecord(&leads[i])
	}

	results, err := s.client.UpsertCollection(ctx, "Lead", externalIDField, records)
	if err != nil {
		return nil, err
	}

	for i, r := range results {
		if r.Success {
			result.Synced++
			continue
		}
		result.Failed++
		leadID := ""
		if i < len(leads) {
			leadID = leads[i].ID
		}
		s.log.Warn("lead rejected by salesforce",
			zap.String("lead_id", leadID),
			zap.Strings("errors", r.Errors),
		)
	}

	s.log.Info("campaign synced",
		zap.String("campaign_id", campaignID),
		zap.Int("candidates", result.Candidates),
		zap.Int("synced", result.Synced),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// sfRecord maps an engine lead onto the Salesforce Lead object. Company
// doubles as LastName when no contact name is known; Salesforce requires
// both.
func sfRecord(lead *model.Lead) map[string]any {
	lastName := lead.Name
	if lastName == "" {
		lastName = lead.Company
	}
	rec := map[string]any{
		externalIDField: lead.ID,
		"Company":       lead.Company,
		"LastName":      lastName,
		"Status":        sfStatus(lead.Status),
		"LeadSource":    "Outreach Engine",
		"Rating":        sfRating(lead.Quality),
	}
	if lead.Email != "" {
		rec["Email"] = lead.Email
	}
	if lead.Phone != "" {
		rec["Phone"] = lead.Phone
	}
	if lead.Website != "" {
		rec["Website"] = lead.Website
	}
	if lead.Industry != "" {
		rec["Industry"] = lead.Industry
	}
	if desc := lead.EnrichedValue("description"); desc != "" {
		rec["Description"] = desc
	}
	return rec
}

func sfStatus(status model.LeadStatus) string {
	if status == model.LeadStatusConverted {
		return "Closed - Converted"
	}
	return "Working - Contacted"
}

func sfRating(tier model.QualityTier) string {
	switch tier {
	case model.TierHot:
		return "Hot"
	case model.TierWarm:
		return "Warm"
	default:
		return "Cold"
	}
}
