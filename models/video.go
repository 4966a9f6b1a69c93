package models

type VideoStatus string

const (
	VideoPending          VideoStatus = "pending"
	VideoGeneratingAudio  VideoStatus = "generating_audio"
	VideoGeneratingAvatar VideoStatus = "generating_avatar"
	VideoGeneratingVideo  VideoStatus = "generating_video"
	VideoProcessing       VideoStatus = "processing"
	VideoCompleted        VideoStatus = "completed"
	VideoFailed           VideoStatus = "failed"
	VideoCancelled        VideoStatus = "cancelled"
)

func (s VideoStatus) Terminal() bool {
	return s == VideoCompleted || s == VideoFailed || s == VideoCancelled
}

func (s *VideoStatus) Scan(value interface{}) error {
	*s = VideoStatus(value.(string))
	return nil
}

func (s VideoStatus) Value() (string, error) {
	return string(s), nil
}

// VideoJob turns a script plus an avatar image into a lip-synced video.
// Stages run strictly in order; any stage failure is terminal for the job.
type VideoJob struct {
	JsonModel
	Owner   UserAccount `json:"-"`
	OwnerID uint        `json:"-"`

	Script        string `gorm:"type:text" json:"script"`
	VoiceProvider string `json:"voice_provider"`
	VoiceID       string `json:"voice_id"`

	// avatar sources in priority order: explicit URL, trained persona, raw prompt
	AvatarImageURL *string      `json:"avatar_image_url"`
	TrainingJobID  *uint        `json:"training_job_id"`
	TrainingJob    *TrainingJob `json:"-"`
	AvatarPrompt   *string      `gorm:"type:text" json:"avatar_prompt"`

	Status          VideoStatus `gorm:"default:pending" json:"status"`
	ProgressPercent int         `gorm:"default:0" json:"progress_percent"`
	ErrorMessage    *string     `json:"error_message"`

	RemoteJobID *string `json:"-"`

	AudioURL *string `json:"audio_url"`
	// bucket key of the synthesized audio; audio_url is re-presigned from it
	// on read since the stored presigned URL expires
	AudioKey          *string  `json:"-"`
	AudioDuration     *float64 `json:"audio_duration"`
	ResolvedAvatarURL *string  `json:"resolved_avatar_url"`
	VideoURL          *string  `json:"video_url"`
	ThumbnailURL      *string  `json:"thumbnail_url"`

	// per-stage costs are added independently as each stage completes
	AudioCost  float64 `json:"audio_cost"`
	AvatarCost float64 `json:"avatar_cost"`
	VideoCost  float64 `json:"video_cost"`
}

// TotalCost is always the sum of stage costs, never stored.
func (v *VideoJob) TotalCost() float64 {
	return v.AudioCost + v.AvatarCost + v.VideoCost
}
