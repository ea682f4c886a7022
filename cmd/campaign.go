package main

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

var (
	campaignFile   string
	campaignStatus string
	campaignOwner  string
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Manage campaigns, templates, and sender profiles",
}

// campaignSpec is the yaml document accepted by `campaign create`. The
// template and profile sections are optional when the campaign references
// existing records by ID.
type campaignSpec struct {
	Campaign model.Campaign        `yaml:"campaign"`
	Template *model.Template       `yaml:"template,omitempty"`
	Profile  *model.CompanyProfile `yaml:"profile,omitempty"`
}

var campaignCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a campaign from a yaml definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(campaignFile)
		if err != nil {
			return eris.Wrap(err, "read campaign file")
		}
		var spec campaignSpec
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return eris.Wrap(err, "parse campaign file")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if spec.Template != nil {
			if spec.Template.ID == "" {
				spec.Template.ID = uuid.New().String()
			}
			if err := st.CreateTemplate(ctx, spec.Template); err != nil {
				return eris.Wrap(err, "create template")
			}
			spec.Campaign.TemplateID = spec.Template.ID
		}
		if spec.Profile != nil {
			if spec.Profile.ID == "" {
				spec.Profile.ID = uuid.New().String()
			}
			if err := st.CreateProfile(ctx, spec.Profile); err != nil {
				return eris.Wrap(err, "create profile")
			}
			spec.Campaign.ProfileID = spec.Profile.ID
		}

		campaign := spec.Campaign
		if campaign.ID == "" {
			campaign.ID = uuid.New().String()
		}
		if campaign.Status == "" {
			campaign.Status = model.CampaignStatusDraft
		}
		if err := campaign.Validate(); err != nil {
			return err
		}
		if err := st.CreateCampaign(ctx, &campaign); err != nil {
			return eris.Wrap(err, "create campaign")
		}

		zap.L().Info("campaign created",
			zap.String("campaign_id", campaign.ID),
			zap.String("name", campaign.Name),
		)
		return printJSON(campaign)
	},
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		campaigns, err := st.ListCampaigns(ctx, store.CampaignFilter{
			Status: model.CampaignStatus(campaignStatus),
			Owner:  campaignOwner,
		})
		if err != nil {
			return err
		}
		return printJSON(campaigns)
	},
}

var campaignShowCmd = &cobra.Command{
	Use:   "show <campaign-id>",
	Short: "Show a campaign with its recent executions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		campaign, err := st.GetCampaign(ctx, args[0])
		if err != nil {
			return err
		}
		executions, err := st.ListExecutions(ctx, campaign.ID, 10)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"campaign":   campaign,
			"executions": executions,
		})
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	campaignCreateCmd.Flags().StringVarP(&campaignFile, "file", "f", "", "yaml campaign definition (required)")
	_ = campaignCreateCmd.MarkFlagRequired("file")
	campaignListCmd.Flags().StringVar(&campaignStatus, "status", "", "filter by status")
	campaignListCmd.Flags().StringVar(&campaignOwner, "owner", "", "filter by owner")

	campaignCmd.AddCommand(campaignCreateCmd, campaignListCmd, campaignShowCmd)
	rootCmd.AddCommand(campaignCmd)
}
