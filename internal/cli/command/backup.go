// Package command provides CLI command definitions for tokmesh-cli.
package command

// BackupCommand returns the backup subcommand group.
func BackupCommand() any {
	// TODO: Create cli.Command for "backup"
	// Subcommands:
	// - backup create [--output FILE]
	// - backup restore FILE
	// - backup list
	// - backup delete BACKUP_ID
	return nil
}

func backupCreate(ctx any) error {
	// TODO: Trigger snapshot creation
	// TODO: Download snapshot to local file
	return nil
}

func backupRestore(ctx any) error {
	// TODO: Confirm restore operation
	// TODO: Upload backup file
	// TODO: Trigger restore
	return nil
}

func backupList(ctx any) error {
	// TODO: List available snapshots
	return nil
}

func backupDelete(ctx any) error {
	// TODO: Delete snapshot
	return nil
}
