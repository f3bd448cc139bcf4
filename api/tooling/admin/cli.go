package main

import (
	"fmt"
	"os"

	"github.com/jcpaschoal/volauth/api/tooling/admin/commands"
	"github.com/jcpaschoal/volauth/foundation/logger"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

// noDeps marks commands that run without opening the database.
const noDeps = "no-deps"

func versionCmd(log *logger.Logger, build string) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the build version and log the binary's build info",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noDeps: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			log.BuildInfo(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), build)
		},
	}
}

func migrateCmd(d *commands.Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the tenant schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.Migrate(cmd.Context(), *d)
		},
	}
}

// privilegeFlags binds the privilege flags shared by tenant create and the
// privilege subcommands.
func privilegeFlags(cmd *cobra.Command, pa *commands.PrivilegeArgs) {
	f := cmd.Flags()
	f.BoolVar(&pa.GlobalVisibility, "global-visibility", false, "volumes are visible to every tenant")
	f.BoolVar(&pa.CreateVolume, "create-volume", false, "allow volume creation")
	f.BoolVar(&pa.DeleteVolume, "delete-volume", false, "allow volume removal")
	f.BoolVar(&pa.MountVolume, "mount-volume", false, "allow list, get, attach and detach")
	f.StringVar(&pa.MaxVolumeSize, "max-volume-size", "", "largest single volume, e.g. 10GB (empty is 0, which admits no create)")
	f.StringVar(&pa.UsageQuota, "usage-quota", "", "total size of the tenant's volumes, e.g. 1TB (empty is 0)")
}

func tenantCmd(d *commands.Deps) *cobra.Command {
	tenant := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	var create commands.TenantCreateArgs
	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			create.Name = args[0]
			create.Privilege.Datastore = create.DefaultDatastore
			return commands.TenantCreate(cmd.Context(), *d, create)
		},
	}
	createCmd.Flags().StringVar(&create.Description, "description", "", "tenant description")
	createCmd.Flags().StringVar(&create.DefaultDatastore, "default-datastore", "", "datastore used when a volume names none")
	createCmd.Flags().StringSliceVar(&create.VMs, "vm", nil, "vm to assign as uuid or uuid=name (repeatable)")
	privilegeFlags(createCmd, &create.Privilege)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every tenant as a tenant file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.TenantList(cmd.Context(), *d)
		},
	}

	var removeVolumes bool
	rmCmd := &cobra.Command{
		Use:   "rm TENANT",
		Short: "Remove a tenant by name or id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.TenantRemove(cmd.Context(), *d, args[0], removeVolumes)
		},
	}
	rmCmd.Flags().BoolVar(&removeVolumes, "remove-volumes", false, "delete the tenant's volumes from the datastores first")

	var name, description string
	updateCmd := &cobra.Command{
		Use:   "update TENANT",
		Short: "Rename a tenant or change its description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("name") && !cmd.Flags().Changed("description") {
				return fmt.Errorf("nothing to update: set --name or --description")
			}
			return commands.TenantUpdate(cmd.Context(), *d, args[0], name, description)
		},
	}
	updateCmd.Flags().StringVar(&name, "name", "", "new tenant name")
	updateCmd.Flags().StringVar(&description, "description", "", "new description")

	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Create the tenants described by a YAML tenant file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "-" {
				return commands.TenantImport(cmd.Context(), *d, os.Stdin)
			}

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open tenant file: %w", err)
			}
			defer f.Close()

			return commands.TenantImport(cmd.Context(), *d, f)
		},
	}
	importCmd.Flags().StringVarP(&file, "file", "f", "-", "tenant file, - for stdin")

	tenant.AddCommand(createCmd, listCmd, rmCmd, updateCmd, importCmd)

	return tenant
}

func vmCmd(d *commands.Deps) *cobra.Command {
	vm := &cobra.Command{
		Use:   "vm",
		Short: "Manage the VMs of a tenant",
	}

	vm.AddCommand(
		&cobra.Command{
			Use:   "add TENANT VM...",
			Short: "Assign VMs (uuid or uuid=name) to a tenant",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return commands.VMAdd(cmd.Context(), *d, args[0], args[1:])
			},
		},
		&cobra.Command{
			Use:   "rm TENANT VM...",
			Short: "Unassign VMs from a tenant",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return commands.VMRemove(cmd.Context(), *d, args[0], args[1:])
			},
		},
	)

	return vm
}

func privilegeCmd(d *commands.Deps) *cobra.Command {
	priv := &cobra.Command{
		Use:   "privilege",
		Short: "Manage datastore privileges of a tenant",
	}

	var set commands.PrivilegeArgs
	setCmd := &cobra.Command{
		Use:   "set TENANT DATASTORE",
		Short: "Insert or replace the privilege for a datastore",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			set.Datastore = args[1]
			return commands.PrivilegeSet(cmd.Context(), *d, args[0], set)
		},
	}
	privilegeFlags(setCmd, &set)

	var def commands.PrivilegeArgs
	defaultCmd := &cobra.Command{
		Use:   "default TENANT DATASTORE",
		Short: "Move the default datastore and set its privilege",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			def.Datastore = args[1]
			return commands.PrivilegeDefault(cmd.Context(), *d, args[0], def)
		},
	}
	privilegeFlags(defaultCmd, &def)

	priv.AddCommand(setCmd, defaultCmd)

	return priv
}

func volumeCmd(d *commands.Deps) *cobra.Command {
	vol := &cobra.Command{
		Use:   "volume",
		Short: "Manage the volume usage ledger",
	}

	vol.AddCommand(
		&cobra.Command{
			Use:   "record TENANT DATASTORE VOLUME SIZE",
			Short: "Record a created volume against a tenant",
			Args:  cobra.ExactArgs(4),
			RunE: func(cmd *cobra.Command, args []string) error {
				return commands.VolumeRecord(cmd.Context(), *d, args[0], args[1], args[2], args[3])
			},
		},
		&cobra.Command{
			Use:   "list TENANT",
			Short: "List the recorded volumes of a tenant",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return commands.VolumeList(cmd.Context(), *d, args[0])
			},
		},
	)

	return vol
}

func authorizeCmd(d *commands.Deps) *cobra.Command {
	var size string
	var showMetrics bool

	cmd := &cobra.Command{
		Use:   "authorize VM DATASTORE COMMAND",
		Short: "Evaluate a command for a VM without running it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := commands.Authorize(cmd.Context(), *d, args[0], args[1], args[2], size)

			if showMetrics {
				mfs, gerr := d.Metrics.Registry().Gather()
				if gerr != nil {
					return fmt.Errorf("gather metrics: %w", gerr)
				}
				for _, mf := range mfs {
					if _, werr := expfmt.MetricFamilyToText(d.Out, mf); werr != nil {
						return fmt.Errorf("write metrics: %w", werr)
					}
				}
			}

			return err
		},
	}
	cmd.Flags().StringVar(&size, "size", "", "requested volume size for create, e.g. 10GB")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print the decision counters afterwards")

	return cmd
}
