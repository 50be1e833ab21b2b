// Command ttsprobe synthesizes one line through the configured Volcengine
// speaker so voice, emotion and credential settings can be checked by ear.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/xiaoyue/backend/internal/config"
	"github.com/zhouzirui/xiaoyue/backend/internal/model/chat"
	speechmodel "github.com/zhouzirui/xiaoyue/backend/internal/model/speech"
	"github.com/zhouzirui/xiaoyue/backend/internal/service/speech"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	text := flag.String("text", "师兄好！今天我们学习新的词语吧。", "待合成文本")
	emotion := flag.String("emotion", chat.EmotionNeutral, "回复情绪标签，决定语速和音量预设")
	voice := flag.String("voice", "", "声音 ID，默认使用 SPEECH_TTS_VOICE")
	outputPath := flag.String("out", "", "输出音频文件路径 (默认自动生成)")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")
	verbose := flag.Bool("v", false, "输出调试日志")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}
	if !cfg.Speech.Enabled() {
		log.Fatal("语音服务未启用，请先在环境变量中配置 SPEECH_APP_ID 和 SPEECH_ACCESS_TOKEN")
	}
	if strings.TrimSpace(*text) == "" {
		log.Fatal("需要通过 -text 提供待合成文本")
	}

	logger := zap.NewNop()
	if *verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			log.Fatalf("创建日志失败: %v", err)
		}
	}

	if *voice == "" {
		*voice = cfg.Speech.DefaultVoice
	}
	if *outputPath == "" {
		*outputPath = fmt.Sprintf("tts-%s-%d.mp3", *emotion, time.Now().Unix())
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := speech.NewVolcengineTTSClient(cfg.Speech, logger)
	req := &speechmodel.TTSRequest{
		SessionID: "probe-" + uuid.NewString(),
		Text:      *text,
		Emotion:   *emotion,
		Voice:     *voice,
		Format:    "mp3",
	}

	log.Printf("开始合成: voice=%s (%s) emotion=%s", *voice, speech.NormalizeVoiceAlias(*voice), *emotion)

	resp, err := client.SynthesizeSpeech(ctx, req)
	if err != nil {
		log.Fatalf("TTS 调用失败: %v", err)
	}

	if err := os.WriteFile(*outputPath, resp.AudioData, 0o644); err != nil {
		log.Fatalf("写入音频文件失败: %v", err)
	}

	log.Printf("TTS 合成成功: 输出文件 %s, speaker=%s, 时长=%dms, %d 字节",
		*outputPath, resp.Speaker, resp.Duration, len(resp.AudioData))
}
