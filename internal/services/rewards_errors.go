package services

import "errors"

var (
	// ErrRateRepositoryMissing indicates the rate rule repository dependency is absent.
	ErrRateRepositoryMissing = errors.New("rate resolver: rate rule repository is not configured")
	// ErrOverrideRepositoryMissing indicates the override repository dependency is absent.
	ErrOverrideRepositoryMissing = errors.New("rate resolver: override repository is not configured")
	// ErrLedgerRepositoryMissing indicates the ledger repository dependency is absent.
	ErrLedgerRepositoryMissing = errors.New("ledger service: repository is not configured")
	// ErrAccountLockerMissing indicates the per user account locker is absent.
	ErrAccountLockerMissing = errors.New("rewards: account locker is not configured")
	// ErrRedemptionRepositoryMissing indicates the redemption repository dependency is absent.
	ErrRedemptionRepositoryMissing = errors.New("redemption service: repository is not configured")
	// ErrVoucherRepositoryMissing indicates voucher reads were requested without a voucher repository.
	ErrVoucherRepositoryMissing = errors.New("redemption service: voucher repository is not configured")
	// ErrPolicyInvalid indicates the rewards policy failed validation.
	ErrPolicyInvalid = errors.New("rewards: policy is invalid")
	// ErrPipelineIncomplete indicates the event processor is missing a calculation stage.
	ErrPipelineIncomplete = errors.New("event processor: pipeline is not fully configured")

	// ErrRedemptionNotFound indicates the redemption does not exist.
	ErrRedemptionNotFound = errors.New("redemption service: redemption not found")
	// ErrVoucherNotFound indicates no voucher carries the code.
	ErrVoucherNotFound = errors.New("redemption service: voucher not found")
	// ErrOverrideNotFound indicates no active override exists for the product.
	ErrOverrideNotFound = errors.New("rate admin: override not found")
	// ErrRateRuleNotFound indicates no active rule occupies the key.
	ErrRateRuleNotFound = errors.New("rate admin: rate rule not found")
	// ErrRewardsUnavailable indicates the backing store could not be reached.
	ErrRewardsUnavailable = errors.New("rewards: storage unavailable")
)
