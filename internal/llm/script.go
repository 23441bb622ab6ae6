package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// languageConfig drives the script prompt. Word budgets target a 12 second
// read at each language's speaking rate (Chinese at 1.2x, roughly 3.6
// characters per second; English around 2.5 words per second).
type languageConfig struct {
	Name        string
	Instruction string
	WordCount   string
}

var languageConfigs = map[string]languageConfig{
	"zh": {
		Name:        "普通话",
		Instruction: "使用标准普通话",
		WordCount:   "严格控制在43-50个汉字（不含标点）",
	},
	"zh-shaanxi": {
		Name:        "陕西话",
		Instruction: "使用陕西方言，保留陕西话的特色词汇和语气词（如'咥'、'美得很'、'嘹咋咧'等），但确保能被大部分人理解",
		WordCount:   "严格控制在43-50个汉字（不含标点）",
	},
	"zh-sichuan": {
		Name:        "四川话",
		Instruction: "使用四川方言，保留四川话的特色词汇和语气词（如'巴适'、'雄起'、'安逸'等），但确保能被大部分人理解",
		WordCount:   "严格控制在43-50个汉字（不含标点）",
	},
	"en": {
		Name:        "English",
		Instruction: "Use English",
		WordCount:   "strictly 25-30 words",
	},
	"ja": {
		Name:        "Japanese",
		Instruction: "Use Japanese (日本語)",
		WordCount:   "厳密に42-48文字（句読点除く）",
	},
	"ko": {
		Name:        "Korean",
		Instruction: "Use Korean (한국어)",
		WordCount:   "엄격하게 36-42자（문장부호 제외）",
	},
	"es": {
		Name:        "Spanish",
		Instruction: "Use Spanish (Español)",
		WordCount:   "estrictamente 25-30 palabras",
	},
	"id": {
		Name:        "Indonesian",
		Instruction: "Use Indonesian (Bahasa Indonesia)",
		WordCount:   "ketat 25-30 kata",
	},
}

// GenerateVoiceScript produces a 12 second voice-over script for the product.
// Unknown languages fall back to Mandarin; callers validate the language
// before reaching this point.
func (c *Client) GenerateVoiceScript(ctx context.Context, productName, sellingPoints, language string) (string, error) {
	cfg, ok := languageConfigs[language]
	if !ok {
		cfg = languageConfigs["zh"]
	}

	var prompt string
	if strings.HasPrefix(language, "zh") {
		prompt = fmt.Sprintf(`你是一名短视频口播文案撰写专家。请为以下产品/业务生成一段正好12秒的口播文案（中文语速提高到1.2倍）。

要求：
- %s
- 字数要求：%s（这是基于中文语速提高到1.2倍≈3.6字/秒计算的，请严格遵守）
- 语气专业、自信、真实（以工厂企业主的口吻）
- 包含产品/业务名称和核心卖点
- 避免夸张的营销用语
- 直接输出文案内容，不要加任何前缀或解释

产品/业务名称：%s

核心卖点：%s`, cfg.Instruction, cfg.WordCount, productName, sellingPoints)
	} else {
		prompt = fmt.Sprintf(`You are a short-video voice-over copywriter. Generate a voice-over script for exactly 12 seconds.

Requirements:
- %s
- Word count: %s (calculated based on normal speaking rate of ~2.5 words/second, please follow strictly)
- Tone: professional, confident, authentic (factory owner speaking)
- Include product/business name and core selling points
- Avoid exaggerated marketing claims
- Output the script directly, no JSON format or explanation needed.

Product/Business name: %s

Core selling points: %s`, cfg.Instruction, cfg.WordCount, productName, sellingPoints)
	}

	messages := []Message{{Role: "user", Content: prompt}}
	return c.ChatComplete(ctx, messages, 500)
}

// ModelPrompt is the assembled image generation brief: a person/scene prompt
// for the still frame, and an action description for the video stage.
type ModelPrompt struct {
	PersonPrompt string
	ActionText   string
}

const modelPromptInstruction = `你是一名资深视觉导演 + 纪实摄影分镜策划 + AI 生图提示词专家。
我将提供一张"老板正面照"的参考图。你的目标不是复刻构图，而是：

1) 将画面重构为"适合作为数字人视频首帧"的纪实正脸素材：人物必须正脸可识别、双眼清晰可见、五官无遮挡，避免侧脸/背影/低头/仰头；表情自然克制，不过度摆拍。
2) 以"工厂纪实摄影 + 手机原生UGC随手拍"为最高原则：不要影棚感，不要滤镜感；画面必须有真实厂房环境光带来的自然明暗对比，并呈现偏冷的工厂实拍色温。

取景逻辑：只选取参考图工厂环境的一个角落作为取景范围，背景信息够用即可，构图像随手一站就拍到的视角。
互动设计：动作要极小、慢、少，只允许眨眼、嘴部随说话轻微运动、极轻微点头一次、微表情变化。
光影质感：光线来源像真实厂房（顶灯/窗光混合，可能不均匀），必须有自然明暗对比与轻微阴影，白平衡偏冷或中性偏冷，允许轻微曝光波动与噪点。

输出要求：
- 只输出 JSON，键名必须完全一致：relation / env / light
- 每个字段都写成可直接拼进生图 prompt 的中文短句（不要换行，不要在字段末尾加句号）
- 严禁输出任何解释、标题、前后缀；不要出现品牌水印或文字标语`

const (
	defaultRelation = "人物保持基本静止，只有眨眼与极轻微点头一次，嘴部随说话轻微运动"
	defaultEnv      = "真实中国工厂内部一角，设备与货架等工业元素清晰可信，背景不喧宾夺主"
	defaultLight    = "真实厂房顶灯与窗光混合且不均匀，自然明暗对比与轻微阴影，中性偏冷色温，允许轻微曝光与白平衡漂移"
)

const defaultActionText = `基于输入图片中的人物与场景，生成一段约 12 秒的超写实手机原生UGC视频。人物为工厂企业主，外貌、脸型、五官比例、发型、肤色、服装与输入图片保持高度一致，不新增或改变人物特征。人物正面面对镜头，正脸可识别且无遮挡，站在真实工厂环境中，保持自然放松的站姿。镜头像手机随手开拍：稳定为主，允许极轻微手持微抖；允许轻微自动曝光与白平衡漂移、轻微噪点与压缩感；不要电影级干净画面、不要滤镜感。

光线要求：真实厂房环境光（顶灯/窗光混合且不均匀），画面必须有自然的明暗对比与轻微阴影；整体色温为中性偏冷/偏冷，避免暖色调滤镜。

动作要求：全程只出现极小自然动作，尽量保持静止。只允许：自然眨眼、嘴部随说话轻微运动、极轻微点头一次、微表情变化；禁止转头、禁止抬手示意、禁止挥手、禁止身体大幅晃动、禁止连贯复杂动作。`

var jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)

// GenerateModelPrompt asks the model for relation/env/light fragments and
// assembles the final image prompt. Parsing is forgiving: a fenced or
// surrounded JSON object is extracted, and missing fields take defaults, so
// a chatty model never fails the stage.
func (c *Client) GenerateModelPrompt(ctx context.Context) (ModelPrompt, error) {
	messages := []Message{{Role: "user", Content: modelPromptInstruction}}
	content, err := c.ChatComplete(ctx, messages, 1000)
	if err != nil {
		return ModelPrompt{}, err
	}

	fragments := parsePromptFragments(content)

	personPrompt := fmt.Sprintf(`[人物]：必须严格保持与参考图片中人物完全一致：
- 保持完全相同的性别、年龄段
- 保持完全相同的脸型、五官比例、面部特征
- 保持完全相同的发型、发色
- 保持完全相同的肤色
- 保持完全相同的服装、衣着（颜色、款式、细节都要一致）

[互动]：%s；单人入镜；正脸可识别；直视镜头为主；双眼清晰可见；五官无遮挡；不过度摆拍；构图允许轻微不居中但不能切掉脸部关键区域

[环境细节]：%s；取景只选择参考图中的一个角落作为拍摄范围；背景是清晰可信的工厂实景，信息够用即可；避免可读文字与品牌标识；背景轻微虚化但仍能辨认工业要素

[光影质感]：%s；必须有自然明暗对比与轻微阴影，不过曝、不死黑；整体白平衡中性偏冷；允许轻微曝光波动与白平衡漂移；无电影棚拍光

[拍摄规格]：手机原生随手拍质感，真实清晰但不海报级；允许轻微噪点与压缩感；无滤镜、无电影调色；皮肤保留真实纹理

[负面约束]：不要侧脸/背影/低头/仰头/遮挡脸部；不要多人同框；不要夸张表情；不要漫画/二次元/奇幻特效；不要过度磨皮；不要文字水印、logo、字幕；不要棚拍广告感；不要暖色滤镜；不要大幅度动作`,
		fragments.relation, fragments.env, fragments.light)

	return ModelPrompt{
		PersonPrompt: personPrompt,
		ActionText:   defaultActionText,
	}, nil
}

type promptFragments struct {
	relation string
	env      string
	light    string
}

func parsePromptFragments(content string) promptFragments {
	fragments := promptFragments{
		relation: defaultRelation,
		env:      defaultEnv,
		light:    defaultLight,
	}

	var parsed map[string]string
	raw := strings.TrimSpace(content)
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		match := jsonObjectPattern.FindString(raw)
		if match == "" {
			return fragments
		}
		if err := json.Unmarshal([]byte(match), &parsed); err != nil {
			return fragments
		}
	}

	if v := strings.TrimSpace(parsed["relation"]); v != "" {
		fragments.relation = v
	}
	if v := strings.TrimSpace(parsed["env"]); v != "" {
		fragments.env = v
	}
	if v := strings.TrimSpace(parsed["light"]); v != "" {
		fragments.light = v
	}
	return fragments
}
