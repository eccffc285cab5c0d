package chain

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/streampay/backend/internal/apperr"
	"github.com/streampay/backend/internal/money"
)

type SolanaConfig struct {
	RPCURL            string
	USDCMint          string
	FacilitatorSecret string // base58
	ConfirmTimeout    time.Duration
	MaxRetries        int
	PollInterval      time.Duration
}

type SolanaClient struct {
	rpc         *rpc.Client
	mint        solana.PublicKey
	facilitator solana.PrivateKey
	cfg         SolanaConfig
	log         *zap.Logger
}

func NewSolanaClient(cfg SolanaConfig, log *zap.Logger) (*SolanaClient, error) {
	mint, err := solana.PublicKeyFromBase58(cfg.USDCMint)
	if err != nil {
		return nil, fmt.Errorf("invalid USDC mint: %w", err)
	}
	facilitator, err := solana.PrivateKeyFromBase58(cfg.FacilitatorSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid facilitator secret key: %w", err)
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &SolanaClient{
		rpc:         rpc.New(cfg.RPCURL),
		mint:        mint,
		facilitator: facilitator,
		cfg:         cfg,
		log:         log,
	}, nil
}

func (c *SolanaClient) FacilitatorAddress() string {
	return c.facilitator.PublicKey().String()
}

func (c *SolanaClient) GenerateDelegate() (Keypair, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return Keypair{}, fmt.Errorf("generate delegate keypair: %w", err)
	}
	return Keypair{PublicKey: key.PublicKey().String(), PrivateKey: []byte(key)}, nil
}

func (c *SolanaClient) TokenBalance(ctx context.Context, owner string) (decimal.Decimal, error) {
	ownerPK, err := parseAddress(owner, "owner")
	if err != nil {
		return decimal.Zero, err
	}
	ata, _, err := solana.FindAssociatedTokenAddress(ownerPK, c.mint)
	if err != nil {
		return decimal.Zero, fmt.Errorf("derive token account: %w", err)
	}

	var res *rpc.GetTokenAccountBalanceResult
	err = c.withRetry(ctx, "get token balance", func(ctx context.Context) error {
		var rerr error
		res, rerr = c.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
		return rerr
	})
	if err != nil {
		// no token account yet means nothing to spend
		if strings.Contains(strings.ToLower(err.Error()), "could not find account") {
			return decimal.Zero, nil
		}
		return decimal.Zero, ToAppError(err, "failed to read token balance")
	}
	if res == nil || res.Value == nil {
		return decimal.Zero, nil
	}

	units, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse token amount %q: %w", res.Value.Amount, err)
	}
	return money.FromBaseUnits(units, int(res.Value.Decimals)), nil
}

func (c *SolanaClient) BuildApprovalTx(ctx context.Context, owner, delegate string, amount decimal.Decimal) (*UnsignedTx, error) {
	ownerPK, err := parseAddress(owner, "owner")
	if err != nil {
		return nil, err
	}
	delegatePK, err := parseAddress(delegate, "delegate")
	if err != nil {
		return nil, err
	}
	units, err := money.ToBaseUnits(amount, money.USDCDecimals)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "invalid approval amount")
	}
	source, _, err := solana.FindAssociatedTokenAddress(ownerPK, c.mint)
	if err != nil {
		return nil, fmt.Errorf("derive token account: %w", err)
	}

	ix := token.NewApproveCheckedInstruction(
		units, money.USDCDecimals, source, c.mint, delegatePK, ownerPK, []solana.PublicKey{},
	).Build()
	return c.buildUnsigned(ctx, ownerPK, ix)
}

func (c *SolanaClient) BuildRevokeTx(ctx context.Context, owner string) (*UnsignedTx, error) {
	ownerPK, err := parseAddress(owner, "owner")
	if err != nil {
		return nil, err
	}
	source, _, err := solana.FindAssociatedTokenAddress(ownerPK, c.mint)
	if err != nil {
		return nil, fmt.Errorf("derive token account: %w", err)
	}

	ix := token.NewRevokeInstruction(source, ownerPK, []solana.PublicKey{}).Build()
	return c.buildUnsigned(ctx, ownerPK, ix)
}

// buildUnsigned serializes a transaction paid by payer with empty signature
// slots, ready for a wallet to sign.
func (c *SolanaClient) buildUnsigned(ctx context.Context, payer solana.PublicKey, ixs ...solana.Instruction) (*UnsignedTx, error) {
	bh, err := c.latestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(ixs, bh.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}
	return &UnsignedTx{
		Transaction:          base64.StdEncoding.EncodeToString(raw),
		Blockhash:            bh.Blockhash.String(),
		LastValidBlockHeight: bh.LastValidBlockHeight,
	}, nil
}

func (c *SolanaClient) SendSigned(ctx context.Context, signedTx string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(signedTx)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, err, "signed transaction is not valid base64")
	}

	sig, err := c.rpc.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", Classify(err)
	}
	return sig.String(), nil
}

func (c *SolanaClient) Confirm(ctx context.Context, signature string) error {
	return c.confirm(ctx, signature, 0)
}

func (c *SolanaClient) TransferSplit(ctx context.Context, t SplitTransfer) (string, error) {
	ownerPK, err := parseAddress(t.Owner, "owner")
	if err != nil {
		return "", err
	}
	if len(t.Delegate.PrivateKey) != 64 {
		return "", apperr.New(apperr.KindIntegrity, "delegate key has unexpected length")
	}
	delegateKey := solana.PrivateKey(t.Delegate.PrivateKey)
	delegatePK := delegateKey.PublicKey()
	facilitatorPK := c.facilitator.PublicKey()

	source, _, err := solana.FindAssociatedTokenAddress(ownerPK, c.mint)
	if err != nil {
		return "", fmt.Errorf("derive source token account: %w", err)
	}

	var ixs []solana.Instruction
	for _, leg := range t.Legs {
		if !leg.Amount.IsPositive() {
			continue
		}
		toPK, err := parseAddress(leg.To, "recipient")
		if err != nil {
			return "", err
		}
		dest, _, err := solana.FindAssociatedTokenAddress(toPK, c.mint)
		if err != nil {
			return "", fmt.Errorf("derive recipient token account: %w", err)
		}
		exists, err := c.accountExists(ctx, dest)
		if err != nil {
			return "", ToAppError(err, "failed to check recipient token account")
		}
		if !exists {
			ixs = append(ixs, associatedtokenaccount.NewCreateInstruction(facilitatorPK, toPK, c.mint).Build())
		}

		units, err := money.ToBaseUnits(leg.Amount, money.USDCDecimals)
		if err != nil {
			return "", apperr.Wrap(apperr.KindValidation, err, "invalid transfer amount")
		}
		ixs = append(ixs, token.NewTransferCheckedInstruction(
			units, money.USDCDecimals, source, c.mint, dest, delegatePK, []solana.PublicKey{},
		).Build())
	}
	if len(ixs) == 0 {
		return "", apperr.New(apperr.KindValidation, "transfer has no positive legs")
	}

	bh, err := c.latestBlockhash(ctx)
	if err != nil {
		return "", err
	}
	tx, err := solana.NewTransaction(ixs, bh.Blockhash, solana.TransactionPayer(facilitatorPK))
	if err != nil {
		return "", fmt.Errorf("build transfer: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		switch {
		case key.Equals(facilitatorPK):
			return &c.facilitator
		case key.Equals(delegatePK):
			return &delegateKey
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sign transfer: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", Classify(err)
	}

	c.log.Info("delegated transfer submitted",
		zap.String("signature", sig.String()),
		zap.String("owner", t.Owner),
		zap.Int("instructions", len(ixs)),
	)

	if err := c.confirm(ctx, sig.String(), bh.LastValidBlockHeight); err != nil {
		return sig.String(), err
	}
	return sig.String(), nil
}

func (c *SolanaClient) DecodeTransaction(signedTx string) (*TxSummary, error) {
	tx, err := decodeTransaction(signedTx)
	if err != nil {
		return nil, err
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "transaction message could not be encoded")
	}
	sum := sha256.Sum256(msg)

	summary := &TxSummary{MessageHash: hex.EncodeToString(sum[:])}
	if len(tx.Message.AccountKeys) > 0 {
		summary.FeePayer = tx.Message.AccountKeys[0].String()
	}
	if len(tx.Signatures) > 0 {
		summary.Signature = tx.Signatures[0].String()
	}
	for _, ix := range tx.Message.Instructions {
		idx := int(ix.ProgramIDIndex)
		if idx >= len(tx.Message.AccountKeys) {
			return nil, apperr.New(apperr.KindValidation, "instruction references unknown program")
		}
		summary.Programs = append(summary.Programs, tx.Message.AccountKeys[idx].String())
	}
	return summary, nil
}

func (c *SolanaClient) CoSignAndSend(ctx context.Context, signedTx string) (string, error) {
	tx, err := decodeTransaction(signedTx)
	if err != nil {
		return "", err
	}
	facilitatorPK := c.facilitator.PublicKey()
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(facilitatorPK) {
		return "", apperr.New(apperr.KindValidation, "fee payer is not the facilitator")
	}

	_, err = tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(facilitatorPK) {
			return &c.facilitator
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("co-sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", Classify(err)
	}
	if err := c.confirm(ctx, sig.String(), 0); err != nil {
		return sig.String(), err
	}
	return sig.String(), nil
}

// confirm polls the signature status until confirmed, failed, expired or
// timed out. lastValid of 0 means the blockhash expiry is unknown.
// Transient RPC errors are retried up to MaxRetries times in a row.
func (c *SolanaClient) confirm(ctx context.Context, signature string, lastValid uint64) error {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "invalid transaction signature")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		done, err := c.pollStatus(ctx, sig, lastValid)
		switch {
		case err == nil && done:
			return nil
		case err != nil && ctx.Err() != nil:
			// the deadline fired inside the RPC call
			return fmt.Errorf("%w: %s: %v", ErrConfirmTimeout, signature, err)
		case err != nil && IsTransient(err):
			failures++
			if failures > c.cfg.MaxRetries {
				return fmt.Errorf("%w: %s: %v", ErrRPCUnavailable, signature, err)
			}
			c.log.Warn("signature status poll failed, retrying",
				zap.String("signature", signature),
				zap.Int("attempt", failures),
				zap.Error(err),
			)
		case err != nil:
			return err
		default:
			failures = 0
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrConfirmTimeout, signature)
		case <-ticker.C:
		}
	}
}

func (c *SolanaClient) pollStatus(ctx context.Context, sig solana.Signature, lastValid uint64) (bool, error) {
	res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return false, Classify(err)
	}
	if res != nil && len(res.Value) > 0 && res.Value[0] != nil {
		st := res.Value[0]
		if st.Err != nil {
			return false, fmt.Errorf("%w: %v", ErrProgramFailed, st.Err)
		}
		switch st.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return true, nil
		}
		return false, nil
	}

	if lastValid > 0 {
		height, err := c.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
		if err != nil {
			return false, Classify(err)
		}
		if height > lastValid {
			return false, fmt.Errorf("%w: block height %d passed %d", ErrBlockhashExpired, height, lastValid)
		}
	}
	return false, nil
}

func (c *SolanaClient) latestBlockhash(ctx context.Context) (*rpc.LatestBlockhashResult, error) {
	var res *rpc.GetLatestBlockhashResult
	err := c.withRetry(ctx, "get latest blockhash", func(ctx context.Context) error {
		var rerr error
		res, rerr = c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		return rerr
	})
	if err != nil {
		return nil, ToAppError(err, "failed to fetch blockhash")
	}
	if res == nil || res.Value == nil {
		return nil, apperr.New(apperr.KindChainSubmission, "empty blockhash response").WithReason(apperr.ReasonRPCUnavailable)
	}
	return res.Value, nil
}

func (c *SolanaClient) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	err := c.withRetry(ctx, "get account info", func(ctx context.Context) error {
		_, rerr := c.rpc.GetAccountInfo(ctx, account)
		return rerr
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// withRetry runs an idempotent read, retrying transient failures with
// exponential backoff. Submissions never go through here.
func (c *SolanaClient) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := 200 * time.Millisecond
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !IsTransient(err) || attempt >= c.cfg.MaxRetries {
			return err
		}
		c.log.Warn("rpc read failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func decodeTransaction(b64 string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "transaction is not valid base64")
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "transaction could not be decoded")
	}
	return tx, nil
}

func parseAddress(s, field string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, apperr.Wrap(apperr.KindValidation, err, "invalid "+field+" address").WithDetail("field", field)
	}
	return pk, nil
}

// ValidAddress reports whether s is a base58 ed25519 public key.
func ValidAddress(s string) bool {
	_, err := solana.PublicKeyFromBase58(s)
	return err == nil
}
