package main

import (
	"fmt"

	"github.com/spf13/cobra"

	awsprovider "github.com/yairfalse/ttlkeeper/internal/provider/aws"
	"github.com/yairfalse/ttlkeeper/internal/provisioner"
)

var (
	createCount int
	createTTL   int
	createOwner string
	createAMI   string
	createType  string
)

// createCmd represents the create command
var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create instances tagged with owner, creation time and TTL",
	Long: `Launch instances from the configured AMI and tag each one with
Name=<owner>-<n>, Owner, Creation_Date, Creation_Time and TTL (minutes).

Tagging is done per instance; one failure does not stop the others.`,
	Example: `  ttlkeeper create                      # Count and TTL from config
  ttlkeeper create --count 2 --ttl 60   # Two instances living one hour
  ttlkeeper create --owner ci-bot       # Tag with an explicit owner`,
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().IntVar(&createCount, "count", 0, "Number of instances (default from config)")
	createCmd.Flags().IntVar(&createTTL, "ttl", -1, "Time to live in minutes (default from config)")
	createCmd.Flags().StringVar(&createOwner, "owner", "", "Owner tag (default: current user)")
	createCmd.Flags().StringVar(&createAMI, "ami", "", "AMI ID (overrides config)")
	createCmd.Flags().StringVar(&createType, "type", "", "Instance type (overrides config)")
}

func runCreate(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		inst := a.cfg.Instances
		if createAMI != "" {
			inst.AMI = createAMI
		}
		if createType != "" {
			inst.Type = createType
		}
		if createCount > 0 {
			inst.Count = createCount
		}
		a.cfg.Instances = inst
		if err := a.cfg.ValidateLaunch(); err != nil {
			return err
		}

		ttlMinutes := a.cfg.TTL.DefaultMinutes
		if createTTL >= 0 {
			ttlMinutes = createTTL
		}

		owner := createOwner
		if owner == "" {
			var err error
			if owner, err = provisioner.CurrentOwner(); err != nil {
				return err
			}
		}

		p := provisioner.New(a.compute, a.codec, nil, a.logger)
		result, err := p.Create(cmd.Context(), provisioner.Request{
			Launch: awsprovider.LaunchSpec{
				AMI:              inst.AMI,
				InstanceType:     inst.Type,
				KeyName:          inst.KeyName,
				SubnetID:         inst.SubnetID,
				SecurityGroupIDs: inst.SecurityGroupIDs,
				Count:            inst.Count,
			},
			Owner: owner,
			TTL:   ttlMinutes,
		})
		if result != nil {
			out := cmd.OutOrStdout()
			for _, id := range result.IDs {
				if tags, ok := result.Tags[id]; ok {
					fmt.Fprintf(out, "%s\t%s\tttl=%sm\n", id, tags[provisioner.TagName], tags["TTL"])
				} else {
					fmt.Fprintf(out, "%s\t(untagged)\n", id)
				}
			}
		}
		return err
	})
}
