package youtube

const testChannelID = "UCuAXFkgsw1L7xaCfnd5JJOw"

// sampleAtomFeed mirrors the shape of a real channel feed.
const sampleAtomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns:media="http://search.yahoo.com/mrss/">
  <title>YouTube Channel Videos</title>
  <link rel="alternate" href="https://www.youtube.com/channel/UCuAXFkgsw1L7xaCfnd5JJOw"/>
  <link rel="self" href="https://www.youtube.com/feeds/videos.xml?channel_id=UCuAXFkgsw1L7xaCfnd5JJOw"/>
  <author>
    <name>Test Uploader</name>
    <uri>https://www.youtube.com/channel/UCuAXFkgsw1L7xaCfnd5JJOw</uri>
  </author>
  <published>2020-01-02T12:00:00-05:00</published>
  <entry>
    <id>yt:video:dQw4w9WgXcQ</id>
    <yt:videoId>dQw4w9WgXcQ</yt:videoId>
    <yt:channelId>UCuAXFkgsw1L7xaCfnd5JJOw</yt:channelId>
    <title>Video 1</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=dQw4w9WgXcQ"/>
    <author>
      <name>Test Uploader</name>
      <uri>https://www.youtube.com/channel/UCuAXFkgsw1L7xaCfnd5JJOw</uri>
    </author>
    <published>2020-01-01T00:00:00Z</published>
    <updated>2020-01-02T00:00:00Z</updated>
    <media:group>
      <media:description>First video</media:description>
      <media:thumbnail url="https://i.ytimg.com/vi/dQw4w9WgXcQ/hqdefault.jpg" width="480" height="360"/>
      <media:community>
        <media:statistics views="1000000"/>
      </media:community>
    </media:group>
  </entry>
  <entry>
    <id>yt:video:xQw4w9WgXcZ</id>
    <yt:videoId>xQw4w9WgXcZ</yt:videoId>
    <yt:channelId>UCuAXFkgsw1L7xaCfnd5JJOw</yt:channelId>
    <title>Video 2</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=xQw4w9WgXcZ"/>
    <author>
      <name>Test Uploader</name>
      <uri>https://www.youtube.com/channel/UCuAXFkgsw1L7xaCfnd5JJOw</uri>
    </author>
    <published>2020-01-02T00:00:00Z</published>
    <updated>2020-01-02T00:00:00Z</updated>
    <media:group>
      <media:description>Second video</media:description>
      <media:thumbnail url="https://i.ytimg.com/vi/xQw4w9WgXcZ/hqdefault.jpg" width="480" height="360"/>
      <media:community>
        <media:statistics views="500000"/>
      </media:community>
    </media:group>
  </entry>
</feed>`

// sampleEmptyAtomFeed is a channel feed with no entries.
const sampleEmptyAtomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns:media="http://search.yahoo.com/mrss/">
  <title>YouTube Channel Videos</title>
  <link rel="alternate" href="https://www.youtube.com/channel/UCuAXFkgsw1L7xaCfnd5JJOw"/>
  <author>
    <name>Test Uploader</name>
    <uri>https://www.youtube.com/channel/UCuAXFkgsw1L7xaCfnd5JJOw</uri>
  </author>
  <published>2020-01-02T12:00:00-05:00</published>
</feed>`

// sampleChannelPage is a trimmed channel page as served to a consenting browser.
const sampleChannelPage = `<!DOCTYPE html>
<html><head>
<title>Test Uploader - YouTube</title>
<meta property="og:title" content="Test Uploader">
<meta property="og:image" content="https://yt3.ggpht.com/avatar=s900">
<meta property="og:url" content="https://www.youtube.com/channel/UCuAXFkgsw1L7xaCfnd5JJOw">
<link rel="canonical" href="https://www.youtube.com/channel/UCuAXFkgsw1L7xaCfnd5JJOw">
<meta itemprop="identifier" content="UCuAXFkgsw1L7xaCfnd5JJOw">
</head><body></body></html>`

// sampleScriptOnlyPage carries the id only in inline player data.
const sampleScriptOnlyPage = `<!DOCTYPE html>
<html><head><title>Script Channel - YouTube</title></head>
<body><script>var ytInitialData = {"metadata":{"channelMetadataRenderer":{"title":"Script Channel","externalId":"UCuAXFkgsw1L7xaCfnd5JJOw"}}};</script></body></html>`
