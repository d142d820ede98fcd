package config

const (
	defaultDownloadDir         = "~/Downloads/permavid"
	defaultLogDir              = "~/.local/share/permavid/logs"
	defaultAPIBind             = "127.0.0.1:7489"
	defaultYtDlpBinary         = "yt-dlp"
	defaultDownloadTimeout     = 3600
	defaultTitleTimeout        = 20
	defaultFilemoonBaseURL     = "https://api.filemoon.sx/api"
	defaultFilesVCUploadURL    = "https://api.files.vc/upload"
	defaultUploadTarget        = "filemoon"
	defaultQueuePollInterval   = 5
	defaultErrorRetryInterval  = 10
	defaultReconcileInterval   = 30
	defaultTransferringTimeout = 1800
	defaultEncodingTimeout     = 3600
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// UploadTargets enumerates the accepted upload.target values.
var UploadTargets = []string{"filemoon", "filesvc", "both", "none"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DownloadDir: defaultDownloadDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		YtDlp: YtDlp{
			Binary:          defaultYtDlpBinary,
			DownloadTimeout: defaultDownloadTimeout,
			TitleTimeout:    defaultTitleTimeout,
		},
		Filemoon: Filemoon{
			BaseURL: defaultFilemoonBaseURL,
		},
		FilesVC: FilesVC{
			UploadURL: defaultFilesVCUploadURL,
		},
		Upload: Upload{
			Target: defaultUploadTarget,
		},
		Workflow: Workflow{
			QueuePollInterval:   defaultQueuePollInterval,
			ErrorRetryInterval:  defaultErrorRetryInterval,
			ReconcileInterval:   defaultReconcileInterval,
			TransferringTimeout: defaultTransferringTimeout,
			EncodingTimeout:     defaultEncodingTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
