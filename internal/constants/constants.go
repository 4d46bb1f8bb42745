package constants

const (
	AppName      = "cipherpoll"
	KeystoreFile = "keystore.json"
	NetworksFile = "networks.json"
	SessionFile  = "session.json"
	SigCacheFile = "decryption_signatures.json"
	KeyCacheFile = "public_keys.json"

	SchemaV1      = 1
	FilePerm      = 0o600
	DirectoryPerm = 0o700

	ZeroAddress = "0x0000000000000000000000000000000000000000"

	// AAD for the encrypted keystore (must match on read + write).
	KeystoreAAD = "cipherpoll:keystore:v1"

	// AAD for cached decryption signatures (carry private key material).
	SigCacheAAD = "cipherpoll:sigcache:v1"

	// Versioned location of the relayer SDK bundle. Fetched at most once per process.
	SDKBundleURL = "https://cdn.zama.ai/relayer-sdk-js/0.2.0/relayer-sdk-js.umd.cjs"

	// Session persistence keys.
	KeyConnected     = "wallet.connected"
	KeyConnectorID   = "wallet.lastConnectorId"
	KeyConnectorName = "wallet.lastConnectorName"
	KeyAccounts      = "wallet.lastAccounts"
	KeyChainID       = "wallet.lastChainId"

	// Cache key prefixes.
	PublicKeyPrefix     = "fhevm.publicKey."
	DecryptionSigPrefix = "fhevm.decryptionSignature."

	// Wallet family token used by the last-resort reconnect strategy.
	WalletFamilyToken = "metamask"
)
