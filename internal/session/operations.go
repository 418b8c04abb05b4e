// ABOUTME: Orchestrator operations: signing, wallet derivation, backups, recovery
// ABOUTME: Each follows the authenticated-call-with-one-retry pattern

package session

import (
	"context"
	"time"

	"github.com/w3hc/genji-passkey/internal/backup"
	"github.com/w3hc/genji-passkey/internal/recovery"
	"github.com/w3hc/genji-passkey/internal/sdk"
	"github.com/w3hc/genji-passkey/internal/store"
)

// SetRecovery attaches the social-recovery manager. Kept separate from
// construction because the manager itself needs the SDK client.
func (o *Orchestrator) SetRecovery(m *recovery.Manager) {
	o.recovery = m
}

// SignMessage signs a message with the account key. Returns an empty
// signature and no error when not authenticated, so call sites can treat
// "nothing to sign with" as an ordinary outcome.
func (o *Orchestrator) SignMessage(ctx context.Context, message string) (string, error) {
	if o.User() == nil {
		o.logger.Debug("sign requested without a session")
		return "", nil
	}
	return call(o, ctx, "sign_message", func(ctx context.Context) (string, error) {
		if err := o.client.Capabilities().Require(sdk.CapSign, "sign_message"); err != nil {
			return "", err
		}
		return o.client.SignMessage(ctx, message)
	})
}

// DeriveWallet derives the wallet for a mode and tag. The result is
// caller-owned and may be re-derived on every call.
func (o *Orchestrator) DeriveWallet(ctx context.Context, mode sdk.DeriveMode, tag string) (*sdk.DerivedWallet, error) {
	if mode == "" {
		mode = sdk.ModeStrict
	}
	if !sdk.ValidMode(mode) {
		err := sdk.Errorf(sdk.KindInvalidInput, "derive_wallet", "unknown derive mode %q", mode)
		o.notifyFailure("derive_wallet", err)
		return nil, err
	}
	return call(o, ctx, "derive_wallet", func(ctx context.Context) (*sdk.DerivedWallet, error) {
		if err := o.client.Capabilities().Require(sdk.CapDerive, "derive_wallet"); err != nil {
			return nil, err
		}
		return o.client.DeriveWallet(ctx, mode, tag)
	})
}

// GetAddress returns only the address for a mode and tag.
func (o *Orchestrator) GetAddress(ctx context.Context, mode sdk.DeriveMode, tag string) (string, error) {
	if mode == "" {
		mode = sdk.ModeStrict
	}
	if !sdk.ValidMode(mode) {
		err := sdk.Errorf(sdk.KindInvalidInput, "get_address", "unknown derive mode %q", mode)
		o.notifyFailure("get_address", err)
		return "", err
	}
	return call(o, ctx, "get_address", func(ctx context.Context) (string, error) {
		if err := o.client.Capabilities().Require(sdk.CapDerive, "get_address"); err != nil {
			return "", err
		}
		return o.client.GetAddress(ctx, mode, tag)
	})
}

// GetBackupStatus returns the account's backup posture snapshot.
func (o *Orchestrator) GetBackupStatus(ctx context.Context) (*sdk.BackupStatus, error) {
	return call(o, ctx, "get_backup_status", func(ctx context.Context) (*sdk.BackupStatus, error) {
		if err := o.client.Capabilities().Require(sdk.CapBackup, "get_backup_status"); err != nil {
			return nil, err
		}
		return o.client.GetBackupStatus(ctx)
	})
}

// CreateBackup produces an encrypted backup sealed under password.
func (o *Orchestrator) CreateBackup(ctx context.Context, password string) ([]byte, error) {
	if password == "" {
		err := sdk.Errorf(sdk.KindInvalidInput, "create_backup", "backup password must not be empty")
		o.notifyFailure("create_backup", err)
		return nil, err
	}
	return call(o, ctx, "create_backup", func(ctx context.Context) ([]byte, error) {
		if err := o.client.Capabilities().Require(sdk.CapBackup, "create_backup"); err != nil {
			return nil, err
		}
		return o.client.CreateBackup(ctx, password)
	})
}

// CreateZipBackup produces the same encrypted backup packaged as a ZIP
// archive suitable for file downloads.
func (o *Orchestrator) CreateZipBackup(ctx context.Context, password string) ([]byte, error) {
	if err := o.client.Capabilities().Require(sdk.CapZipBackup, "create_zip_backup"); err != nil {
		o.notifyFailure("create_zip_backup", err)
		return nil, err
	}
	payload, err := o.CreateBackup(ctx, password)
	if err != nil {
		return nil, err
	}
	zipped, err := backup.WrapZip(payload)
	if err != nil {
		o.notifyFailure("create_zip_backup", err)
		return nil, err
	}
	return zipped, nil
}

// RestoreFromBackup decrypts a backup in any accepted packaging. Runs
// without a session: it is how a logged-out user gets back in. Backups
// from incompatible schema versions are rejected, never mis-parsed.
func (o *Orchestrator) RestoreFromBackup(ctx context.Context, data []byte, password string) (*sdk.RestoredAccount, error) {
	payload, err := backup.Unwrap(data)
	if err != nil {
		o.notifier.Error("Restore failed", err.Error())
		return nil, err
	}
	account, err := o.client.RestoreFromBackup(ctx, payload, password)
	if err != nil {
		o.notifyFailure("restore_backup", err)
		return nil, err
	}
	o.notifier.Success("Backup restored", "Wallet "+account.EthereumAddress+" recovered")
	return account, nil
}

// RegisterWithBackupFile restores a backup and registers it under a new
// username with a fresh credential on this device.
func (o *Orchestrator) RegisterWithBackupFile(ctx context.Context, data []byte, password, username string) (*sdk.User, error) {
	if err := ValidateUsername(username); err != nil {
		o.notifyFailure("register_with_backup", err)
		return nil, err
	}
	payload, err := backup.Unwrap(data)
	if err != nil {
		o.notifier.Error("Restore failed", err.Error())
		return nil, err
	}
	o.clearSuppression()
	user, err := o.client.RegisterWithBackup(ctx, payload, password, username)
	if err != nil {
		o.notifyFailure("register_with_backup", err)
		return nil, err
	}
	o.notifier.Success("Account restored", "Signed in as "+user.Username)
	return user, nil
}

// SetupSocialRecovery splits an encrypted backup across guardians.
func (o *Orchestrator) SetupSocialRecovery(ctx context.Context, contacts []recovery.Contact, threshold int, password string) (*recovery.Config, error) {
	if o.recovery == nil {
		err := sdk.Errorf(sdk.KindUnsupported, "setup_social_recovery", "social recovery is not configured")
		o.notifyFailure("setup_social_recovery", err)
		return nil, err
	}
	return call(o, ctx, "setup_social_recovery", func(ctx context.Context) (*recovery.Config, error) {
		if err := o.client.Capabilities().Require(sdk.CapSocialRecovery, "setup_social_recovery"); err != nil {
			return nil, err
		}
		return o.recovery.Setup(ctx, contacts, threshold, password)
	})
}

// GenerateGuardianInvite builds the share package for one guardian.
func (o *Orchestrator) GenerateGuardianInvite(ctx context.Context, guardianID string) (*recovery.Invite, error) {
	if o.recovery == nil {
		err := sdk.Errorf(sdk.KindUnsupported, "generate_invite", "social recovery is not configured")
		o.notifyFailure("generate_invite", err)
		return nil, err
	}
	invite, err := o.recovery.GenerateInvite(ctx, guardianID)
	if err != nil {
		o.notifyFailure("generate_invite", err)
		return nil, err
	}
	return invite, nil
}

// RecoverFromGuardians reconstructs and restores a backup from guardian
// shares. Runs without a session.
func (o *Orchestrator) RecoverFromGuardians(ctx context.Context, shareCodes []string, password string) (*recovery.Recovered, error) {
	if o.recovery == nil {
		err := sdk.Errorf(sdk.KindUnsupported, "recover_from_guardians", "social recovery is not configured")
		o.notifyFailure("recover_from_guardians", err)
		return nil, err
	}
	recovered, err := o.recovery.Recover(ctx, shareCodes, password)
	if err != nil {
		o.notifier.Error("Recovery failed", err.Error())
		return nil, err
	}
	o.notifier.Success("Wallet recovered", "Address "+recovered.EthereumAddress)
	return recovered, nil
}

// ClearSocialRecoveryConfig deletes the local guardian configuration.
// Best effort, never fails.
func (o *Orchestrator) ClearSocialRecoveryConfig(ctx context.Context) {
	if o.recovery == nil {
		return
	}
	o.recovery.Clear(ctx)
}

// persistMirror writes the UI-only auth mirror so a front end can render
// optimistically before Restore completes. Failures are logged only.
func (o *Orchestrator) persistMirror(st State) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if !st.Authenticated {
		if err := o.states.DeleteState(ctx, store.StateKeyAuthMirror); err != nil {
			o.logger.Debug("clearing auth mirror failed", "error", err)
		}
		return
	}
	raw, err := encodeMirror(st)
	if err != nil {
		o.logger.Debug("encoding auth mirror failed", "error", err)
		return
	}
	if err := o.states.SetState(ctx, store.StateKeyAuthMirror, raw); err != nil {
		o.logger.Debug("writing auth mirror failed", "error", err)
	}
}
